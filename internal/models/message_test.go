package models

import (
	"testing"
	"time"
)

func ts() *time.Time {
	t := time.Now()
	return &t
}

func TestEffectiveStatus(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want MessageStatus
	}{
		{
			name: "no timestamps pending",
			msg:  Message{},
			want: MessagePending,
		},
		{
			name: "error without timestamps failed",
			msg:  Message{Error: "connection refused"},
			want: MessageFailed,
		},
		{
			name: "sent only",
			msg:  Message{SentAt: ts()},
			want: MessageSent,
		},
		{
			name: "delivered beats sent",
			msg:  Message{SentAt: ts(), DeliveredAt: ts()},
			want: MessageDelivered,
		},
		{
			name: "opened beats delivered",
			msg:  Message{SentAt: ts(), DeliveredAt: ts(), OpenedAt: ts()},
			want: MessageOpened,
		},
		{
			name: "clicked beats opened",
			msg:  Message{SentAt: ts(), OpenedAt: ts(), ClickedAt: ts()},
			want: MessageClicked,
		},
		{
			name: "bounced beats clicked",
			msg:  Message{SentAt: ts(), ClickedAt: ts(), BouncedAt: ts()},
			want: MessageBounced,
		},
		{
			name: "complained beats bounced",
			msg:  Message{SentAt: ts(), BouncedAt: ts(), ComplainedAt: ts()},
			want: MessageComplained,
		},
		{
			name: "bounce after send without error field",
			msg:  Message{SentAt: ts(), BouncedAt: ts()},
			want: MessageBounced,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EffectiveStatus(&tt.msg); got != tt.want {
				t.Errorf("EffectiveStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJobSnapshotProgress(t *testing.T) {
	job := &SendJob{
		ID:              "j1",
		Status:          JobProcessing,
		TotalRecipients: 200,
		ProcessedCount:  50,
	}

	s := job.Snapshot(true)
	if !s.HasJob || !s.IsActive {
		t.Fatalf("Snapshot() = %+v, want has_job and is_active", s)
	}
	if s.Progress != 0.25 {
		t.Errorf("Progress = %v, want 0.25", s.Progress)
	}

	empty := &SendJob{ID: "j2", Status: JobFailed}
	if got := empty.Snapshot(false).Progress; got != 0 {
		t.Errorf("Progress with zero total = %v, want 0", got)
	}
}

func TestRecipientTagList(t *testing.T) {
	tests := []struct {
		tags string
		want int
	}{
		{`["vip","new"]`, 2},
		{``, 0},
		{`not json`, 0},
		{`[]`, 0},
	}
	for _, tt := range tests {
		r := Recipient{Tags: tt.tags}
		if got := len(r.TagList()); got != tt.want {
			t.Errorf("TagList(%q) len = %d, want %d", tt.tags, got, tt.want)
		}
	}
}
