package models

import (
	"math"
	"testing"
	"time"
)

func TestPairQuoteSpread(t *testing.T) {
	tests := []struct {
		name string
		q    PairQuote
		want float64
	}{
		{
			name: "positive spread",
			q:    PairQuote{A: 103, B: 100, HasA: true, HasB: true},
			want: 3.0,
		},
		{
			name: "negative spread",
			q:    PairQuote{A: 97, B: 100, HasA: true, HasB: true},
			want: -3.0,
		},
		{
			name: "missing side",
			q:    PairQuote{A: 103, HasA: true},
			want: 0,
		},
		{
			name: "zero price treated as missing",
			q:    PairQuote{A: 103, B: 0, HasA: true, HasB: true},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.q.Spread()
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Spread() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompletedEventValidate(t *testing.T) {
	now := time.Now()
	valid := CompletedEvent{
		ID:              "id-1",
		Symbol:          "BTC",
		MaxSpread:       3.5,
		DurationSeconds: 65,
		StartTime:       now.Add(-65 * time.Second),
		EndTime:         now,
		DayKey:          "2024-03-01",
	}

	tests := []struct {
		name    string
		mutate  func(*CompletedEvent)
		wantErr bool
	}{
		{name: "valid", mutate: func(*CompletedEvent) {}, wantErr: false},
		{name: "empty symbol", mutate: func(e *CompletedEvent) { e.Symbol = "" }, wantErr: true},
		{name: "zero spread", mutate: func(e *CompletedEvent) { e.MaxSpread = 0 }, wantErr: true},
		{name: "too short", mutate: func(e *CompletedEvent) { e.DurationSeconds = 59 }, wantErr: true},
		{name: "missing day key", mutate: func(e *CompletedEvent) { e.DayKey = "" }, wantErr: true},
		{name: "end before start", mutate: func(e *CompletedEvent) { e.EndTime = e.StartTime.Add(-time.Second) }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			err := e.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUpdateResultString(t *testing.T) {
	if UpdateOK.String() != "ok" || UpdateDeleted.String() != "deleted" {
		t.Error("unexpected UpdateResult string values")
	}
}
