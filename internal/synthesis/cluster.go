package synthesis

import (
	"sort"
	"strings"
	"time"

	"vos/internal/models"

	"github.com/google/uuid"
)

// GroupVerdict is the model's clustering of one location group.
type GroupVerdict struct {
	Group    int              `json:"group"`
	Clusters []ClusterVerdict `json:"clusters"`
}

// ClusterVerdict names the comments (by ref) that raise one concern.
type ClusterVerdict struct {
	Refs       []int   `json:"refs"`
	Similarity float64 `json:"similarity"`
	Content    string  `json:"content"`
	Category   string  `json:"category"`
	Priority   string  `json:"priority"`
}

// sortComments orders by start, end, persona and id so refs are stable.
func sortComments(in []models.Comment) []models.Comment {
	out := append([]models.Comment(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		if a.EndLine != b.EndLine {
			return a.EndLine < b.EndLine
		}
		if a.PersonaID != b.PersonaID {
			return a.PersonaID < b.PersonaID
		}
		return a.ID < b.ID
	})
	return out
}

// groupByLocation chains sorted comments whose start falls within proximity
// lines of the running group end. It returns index groups into sorted.
func groupByLocation(sorted []models.Comment, proximity int) [][]int {
	var (
		groups [][]int
		end    int
	)
	for i, c := range sorted {
		if len(groups) > 0 && c.StartLine <= end+proximity {
			last := len(groups) - 1
			groups[last] = append(groups[last], i)
			end = max(end, c.EndLine)
			continue
		}
		groups = append(groups, []int{i})
		end = c.EndLine
	}
	return groups
}

// buildMetaComments turns model verdicts into meta-comments. Every comment
// lands in exactly one meta-comment: refs that are unknown, belong to
// another group or were already claimed are ignored, clusters below
// threshold are split, and unclaimed comments become singletons.
func buildMetaComments(reviewID string, sorted []models.Comment, groups [][]int, verdicts []GroupVerdict, threshold float64, now time.Time) []models.MetaComment {
	groupOf := make([]int, len(sorted))
	for gi, g := range groups {
		for _, idx := range g {
			groupOf[idx] = gi
		}
	}
	byGroup := make(map[int][]ClusterVerdict, len(verdicts))
	for _, v := range verdicts {
		byGroup[v.Group] = append(byGroup[v.Group], v.Clusters...)
	}

	claimed := make([]bool, len(sorted))
	out := make([]models.MetaComment, 0, len(sorted))
	for gi, g := range groups {
		for _, cl := range byGroup[gi] {
			refs := make([]int, 0, len(cl.Refs))
			for _, ref := range cl.Refs {
				if ref < 0 || ref >= len(sorted) || groupOf[ref] != gi || claimed[ref] {
					continue
				}
				claimed[ref] = true
				refs = append(refs, ref)
			}
			switch {
			case len(refs) == 0:
			case len(refs) > 1 && cl.Similarity < threshold:
				for _, ref := range refs {
					out = append(out, newMeta(reviewID, sorted, []int{ref}, "", cl.Category, cl.Priority, now))
				}
			default:
				out = append(out, newMeta(reviewID, sorted, refs, cl.Content, cl.Category, cl.Priority, now))
			}
		}
		for _, idx := range g {
			if !claimed[idx] {
				claimed[idx] = true
				out = append(out, newMeta(reviewID, sorted, []int{idx}, "", "", "", now))
			}
		}
	}
	sortMetas(out)
	return out
}

// fallbackMetaComments merges each location group into one meta-comment
// without consulting a model.
func fallbackMetaComments(reviewID string, sorted []models.Comment, groups [][]int, now time.Time) []models.MetaComment {
	out := make([]models.MetaComment, 0, len(groups))
	for _, g := range groups {
		parts := make([]string, 0, len(g))
		for _, idx := range g {
			parts = append(parts, sorted[idx].Content)
		}
		out = append(out, newMeta(reviewID, sorted, g, strings.Join(parts, " | "), string(models.CategoryClarity), string(models.PriorityMedium), now))
	}
	sortMetas(out)
	return out
}

func newMeta(reviewID string, sorted []models.Comment, refs []int, content, category, priority string, now time.Time) models.MetaComment {
	first := sorted[refs[0]]
	m := models.MetaComment{
		ID:        uuid.NewString(),
		ReviewID:  reviewID,
		Content:   strings.TrimSpace(content),
		StartLine: first.StartLine,
		EndLine:   first.EndLine,
		Category:  models.NormalizeCategory(category),
		Priority:  models.NormalizePriority(priority),
		Sources:   make([]models.MetaSource, 0, len(refs)),
		CreatedAt: now,
	}
	parts := make([]string, 0, len(refs))
	for _, ref := range refs {
		c := sorted[ref]
		m.StartLine = min(m.StartLine, c.StartLine)
		m.EndLine = max(m.EndLine, c.EndLine)
		m.Sources = append(m.Sources, models.MetaSource{
			CommentID:       c.ID,
			PersonaID:       c.PersonaID,
			PersonaName:     c.PersonaName,
			PersonaColor:    c.PersonaColor,
			OriginalContent: c.Content,
		})
		parts = append(parts, c.Content)
	}
	if m.Content == "" {
		m.Content = strings.Join(parts, " | ")
	}
	return m
}

func sortMetas(list []models.MetaComment) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].StartLine != list[j].StartLine {
			return list[i].StartLine < list[j].StartLine
		}
		return list[i].EndLine < list[j].EndLine
	})
}
