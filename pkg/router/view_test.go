package router

import (
	"reflect"
	"testing"
)

func TestTableCandidatesPutsLeaderFirst(t *testing.T) {
	tbl := NewTable([][]string{{"a", "b", "c"}})
	tbl.SetLeader(0, "b")

	got := tbl.Candidates(0)
	want := []string{"b", "a", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Candidates = %v, want %v", got, want)
	}
}

func TestTableCandidatesFallsBackToMemberOrderWithNoLeader(t *testing.T) {
	tbl := NewTable([][]string{{"a", "b", "c"}})
	got := tbl.Candidates(0)
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Candidates = %v, want %v", got, want)
	}
}

func TestTableSetLeaderEmptyClearsEstimate(t *testing.T) {
	tbl := NewTable([][]string{{"a", "b"}})
	tbl.SetLeader(0, "a")
	tbl.SetLeader(0, "")
	if got := tbl.View(0).Leader; got != "" {
		t.Fatalf("Leader = %q, want empty after clearing", got)
	}
}
