package transcribe

import (
	"strings"
	"unicode"
)

// WERResult breaks down the word error rate of a transcript against a
// reference text.
type WERResult struct {
	WER           float64 // (Substitutions + Insertions + Deletions) / RefWords
	Substitutions int
	Insertions    int
	Deletions     int
	RefWords      int
}

// ScoreSegments compares the joined text of segments against reference.
func ScoreSegments(reference string, segments []Segment) WERResult {
	return ComputeWER(reference, Text(segments))
}

// ComputeWER aligns hypothesis against reference by minimum word edit
// distance. Both are lowercased and stripped of punctuation first.
func ComputeWER(reference, hypothesis string) WERResult {
	ref := normalizeWords(reference)
	hyp := normalizeWords(hypothesis)
	n, m := len(ref), len(hyp)
	if n == 0 {
		return WERResult{}
	}

	dist := make([][]int, n+1)
	for i := range dist {
		dist[i] = make([]int, m+1)
		dist[i][0] = i
	}
	for j := range dist[0] {
		dist[0][j] = j
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if ref[i-1] == hyp[j-1] {
				dist[i][j] = dist[i-1][j-1]
				continue
			}
			dist[i][j] = 1 + min(dist[i-1][j-1], dist[i-1][j], dist[i][j-1])
		}
	}

	res := WERResult{RefWords: n}
	for i, j := n, m; i > 0 || j > 0; {
		switch {
		case i > 0 && j > 0 && ref[i-1] == hyp[j-1]:
			i, j = i-1, j-1
		case i > 0 && j > 0 && dist[i][j] == dist[i-1][j-1]+1:
			res.Substitutions++
			i, j = i-1, j-1
		case i > 0 && dist[i][j] == dist[i-1][j]+1:
			res.Deletions++
			i--
		default:
			res.Insertions++
			j--
		}
	}
	res.WER = float64(res.Substitutions+res.Insertions+res.Deletions) / float64(n)
	return res
}

func normalizeWords(s string) []string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
	return strings.Fields(s)
}
