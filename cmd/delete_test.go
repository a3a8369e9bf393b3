package cmd

import (
	"testing"
	"time"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/store"
)

func TestDeleteCommand(t *testing.T) {
	db := seedStore(t, internal.CreateTestSession("s1", 0), internal.CreateTestSession("s2", time.Hour))

	tests := []struct {
		name    string
		args    []string
		wantErr bool
		want    store.Counts
	}{
		{name: "message", args: []string{"delete", "--message", "s2-m1"}, want: store.Counts{Sessions: 2, Messages: 3}},
		{name: "unknown message", args: []string{"delete", "--message", "s2-m1"}, wantErr: true, want: store.Counts{Sessions: 2, Messages: 3}},
		{name: "session cascades", args: []string{"delete", "s1"}, want: store.Counts{Sessions: 1, Messages: 1}},
		{name: "unknown session", args: []string{"delete", "s1"}, wantErr: true, want: store.Counts{Sessions: 1, Messages: 1}},
		{name: "missing id", args: []string{"delete"}, wantErr: true, want: store.Counts{Sessions: 1, Messages: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := execute(t, tt.args...)
			if (err != nil) != tt.wantErr {
				t.Errorf("deleteCmd.Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := readCounts(t, db); got != tt.want {
				t.Errorf("counts = %+v, want %+v", got, tt.want)
			}
		})
	}
}
