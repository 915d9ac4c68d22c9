package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"statesync/internal/query"
)

func TestParsePredicates(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    []query.Predicate
		wantErr bool
	}{
		{name: "none", args: nil, want: []query.Predicate{}},
		{
			name: "equals and between",
			args: []string{"status=Delivered_Equals", "age=10_Between_20"},
			want: []query.Predicate{
				query.P("status", query.Equals, "Delivered"),
				query.Range("age", query.Between, "10", "20"),
			},
		},
		{name: "missing equals sign", args: []string{"status"}, wantErr: true},
		{name: "missing operator", args: []string{"status=Delivered"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePredicates(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parsePredicates() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parsePredicates() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
