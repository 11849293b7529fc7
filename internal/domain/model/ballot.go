package model

import (
	"math"
	"sort"
	"time"
)

// Ballot — анонимный бюллетень.
// Хранится в таблице ballots. Неизменяем после создания.
type Ballot struct {
	// ID — UUID бюллетеня
	ID string
	// TokenHash — дайджест израсходованного credential (наружу не отдаётся)
	TokenHash string
	// ElectionID — UUID выборов
	ElectionID string
	// AnswerIDs — выбранные варианты
	AnswerIDs []string
	// SubmittedAt — время подачи, усечённое до минуты
	SubmittedAt time.Time
}

// TruncateToMinute усекает время до минуты в UTC.
// Снижает точность меток, по которым можно было бы сопоставить
// выдачу credential и подачу бюллетеня.
func TruncateToMinute(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// AnswerResult — итог по одному варианту ответа.
type AnswerResult struct {
	AnswerID   string
	Text       string
	Votes      int
	Percentage float64
}

// Results — итоги выборов.
type Results struct {
	ElectionID string
	Question   string
	VotingMode VotingMode
	Answers    []AnswerResult
	// TotalBallots — число поданных бюллетеней
	TotalBallots int
	// TotalSelections — сумма выбранных вариантов по всем бюллетеням
	TotalSelections int
	// TokensIssued — число выданных credentials
	TokensIssued int
	// ParticipationRate — доля бюллетеней от выданных credentials, в процентах
	ParticipationRate float64
	// Winner — единственный лидер с ненулевым числом голосов (nil при ничьей)
	Winner *AnswerResult
	// Tie — лидерство разделено между несколькими вариантами
	Tie bool
}

// ComputeResults строит итоги по вариантам ответа и счётчикам голосов.
// counts — число выборов каждого варианта; варианты без голосов получают 0.
// Проценты считаются от общего числа выборов и округляются до двух знаков.
func ComputeResults(e *Election, counts map[string]int, totalBallots, tokensIssued int) *Results {
	res := &Results{
		ElectionID:   e.ID,
		Question:     e.Question,
		VotingMode:   e.VotingMode,
		Answers:      make([]AnswerResult, 0, len(e.Answers)),
		TotalBallots: totalBallots,
		TokensIssued: tokensIssued,
	}

	for _, a := range e.Answers {
		res.TotalSelections += counts[a.ID]
	}

	for _, a := range e.Answers {
		ar := AnswerResult{AnswerID: a.ID, Text: a.Text, Votes: counts[a.ID]}
		if res.TotalSelections > 0 {
			ar.Percentage = round2(float64(ar.Votes) * 100 / float64(res.TotalSelections))
		}
		res.Answers = append(res.Answers, ar)
	}

	if tokensIssued > 0 {
		res.ParticipationRate = round2(float64(totalBallots) * 100 / float64(tokensIssued))
	}

	// Лидер: максимум голосов, стабильный порядок — порядок вариантов
	ranked := make([]AnswerResult, len(res.Answers))
	copy(ranked, res.Answers)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Votes > ranked[j].Votes })

	if len(ranked) > 0 && ranked[0].Votes > 0 {
		if len(ranked) > 1 && ranked[1].Votes == ranked[0].Votes {
			res.Tie = true
		} else {
			w := ranked[0]
			res.Winner = &w
		}
	}
	return res
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
