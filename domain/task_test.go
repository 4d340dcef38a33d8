package domain

import (
	"errors"
	"testing"

	"github.com/bytedance/sonic"
)

func validBucket() Bucket {
	return Bucket{
		ProjectID: "p1",
		Employee:  "a@x.com",
		Year:      "2025",
		Month:     "March",
		Week:      "Week 1",
		Day:       "Monday",
	}
}

func TestBucketValidate(t *testing.T) {
	cases := []struct {
		name  string
		edit  func(*Bucket)
		field string
	}{
		{"valid", func(*Bucket) {}, ""},
		{"empty project", func(b *Bucket) { b.ProjectID = " " }, "projectId"},
		{"empty employee", func(b *Bucket) { b.Employee = "" }, "employee"},
		{"short year", func(b *Bucket) { b.Year = "25" }, "year"},
		{"non numeric year", func(b *Bucket) { b.Year = "20x5" }, "year"},
		{"lowercase month", func(b *Bucket) { b.Month = "march" }, "month"},
		{"week five", func(b *Bucket) { b.Week = "Week 5" }, "week"},
		{"abbreviated day", func(b *Bucket) { b.Day = "Mon" }, "day"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := validBucket()
			tc.edit(&b)
			err := b.Validate()
			if tc.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if ve.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, ve.Field)
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected error to match ErrValidation")
			}
		})
	}
}

func TestBucketCollectionLayout(t *testing.T) {
	got := validBucket().Collection()
	want := Path{"Tasks", "p1", "a@x.com", "2025", "March", "Week 1", "Monday"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("segment %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	if !got.IsCollection() {
		t.Fatalf("expected bucket to address a collection")
	}
}

func TestTaskInputValidate(t *testing.T) {
	ok := TaskInput{Description: "Draft memo", Category: CategoryImportant, Type: TypeCall}
	if err := ok.validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := []TaskInput{
		{Description: "  ", Category: CategoryImportant, Type: TypeCall},
		{Description: "x", Category: "Urgent", Type: TypeCall},
		{Description: "x", Category: CategoryGrowth, Type: "Email"},
	}
	for _, in := range bad {
		if err := in.validate(); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", in, err)
		}
	}
}

func TestTaskMarshalIncludesPendingStatus(t *testing.T) {
	task := Task{ID: "t1", Bucket: validBucket(), Description: "Draft memo", Status: StatusPending}

	payload, err := sonic.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	var decoded map[string]any
	if err := sonic.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if decoded["status"] != float64(0) {
		t.Fatalf("expected status 0 to be present, got %s", payload)
	}
	if _, ok := decoded["completedAt"]; ok {
		t.Fatalf("expected completedAt to be omitted for pending task, got %s", payload)
	}
}

func TestTaskFromDocumentReadsStoredFields(t *testing.T) {
	b := validBucket()
	doc := Document{
		Path: b.Collection().Doc("t1"),
		Fields: Fields{
			"taskDesc":    "Draft memo",
			"category":    "Important",
			"type":        "Call",
			"status":      float64(1),
			"assignedAt":  int64(10),
			"completedAt": int32(20),
		},
	}
	task := taskFromDocument(b, doc)
	if task.ID != "t1" || task.Description != "Draft memo" {
		t.Fatalf("unexpected task %+v", task)
	}
	if !task.Completed() || task.AssignedAt != 10 || task.CompletedAt != 20 {
		t.Fatalf("unexpected numeric fields %+v", task)
	}
}
