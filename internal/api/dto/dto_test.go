package dto

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/bigkaa/govote/internal/domain/model"
)

func TestAnswerInput_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    model.Answer
		wantErr bool
	}{
		{"строка", `"Да"`, model.Answer{Text: "Да"}, false},
		{"строка с пробелами", ` "Нет" `, model.Answer{Text: "Нет"}, false},
		{"объект", `{"id":"y","text":"Да"}`, model.Answer{ID: "y", Text: "Да"}, false},
		{"число", `42`, model.Answer{}, true},
		{"массив", `["Да"]`, model.Answer{}, true},
		{"битый объект", `{"id":`, model.Answer{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a AnswerInput
			err := a.UnmarshalJSON([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatal("ожидалась ошибка")
				}
				return
			}
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if model.Answer(a) != tt.want {
				t.Errorf("получено %+v, ожидалось %+v", a, tt.want)
			}
		})
	}
}

func TestCreateElectionRequest_MixedAnswers(t *testing.T) {
	var req CreateElectionRequest
	body := `{"title":"Бюджет","answers":["Да",{"id":"n","text":"Нет"}]}`
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("ошибка декодирования: %v", err)
	}
	got := Answers(req.Answers)
	want := []model.Answer{{Text: "Да"}, {ID: "n", Text: "Нет"}}
	if !slices.Equal(got, want) {
		t.Errorf("Answers() = %+v, ожидалось %+v", got, want)
	}
}

func TestAnswers_Nil(t *testing.T) {
	if got := Answers(nil); got != nil {
		t.Errorf("Answers(nil) = %v, ожидался nil", got)
	}
	if got := Answers([]AnswerInput{}); got == nil || len(got) != 0 {
		t.Errorf("Answers([]) = %v, ожидался пустой срез", got)
	}
}

func TestVoteRequest_Selection(t *testing.T) {
	tests := []struct {
		name string
		req  VoteRequest
		want []string
	}{
		{"answer_ids", VoteRequest{AnswerIDs: []string{"a", "b"}}, []string{"a", "b"}},
		{"answer_id", VoteRequest{AnswerID: "a"}, []string{"a"}},
		{"answer_ids приоритетнее", VoteRequest{AnswerIDs: []string{"b"}, AnswerID: "a"}, []string{"b"}},
		{"пусто", VoteRequest{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.Selection(); !slices.Equal(got, tt.want) {
				t.Errorf("Selection() = %v, ожидалось %v", got, tt.want)
			}
		})
	}
}

func TestResults_Model(t *testing.T) {
	winner := model.AnswerResult{AnswerID: "y", Text: "Да", Votes: 3, Percentage: 75}
	in := &model.Results{
		ElectionID:   "e-1",
		VotingMode:   model.ModeSingleChoice,
		Answers:      []model.AnswerResult{winner, {AnswerID: "n", Text: "Нет", Votes: 1, Percentage: 25}},
		TotalBallots: 4,
		Winner:       &winner,
	}
	out := FromResults(in).Model()
	if out.Winner == nil || *out.Winner != winner {
		t.Errorf("Winner = %+v", out.Winner)
	}
	if out.Winner == in.Winner {
		t.Error("Winner должен копироваться, а не разделяться")
	}
	if len(out.Answers) != 2 || out.TotalBallots != 4 || out.VotingMode != in.VotingMode {
		t.Errorf("итоги = %+v", out)
	}
}
