package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bmtc-platforms/enricher/internal/dataset"
)

func sampleRun() (dataset.Run, []dataset.RouteRecord, []dataset.FailedQuery) {
	started := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	run := dataset.Run{
		RunID:       "run-1",
		Name:        "majestic",
		Seeds:       []string{"100"},
		StartedAt:   started,
		FinishedAt:  started.Add(time.Minute),
		Received:    2,
		Failed:      1,
		FailedSeeds: []string{},
	}
	records := []dataset.RouteRecord{
		{RouteID: "55", RouteNumber: "335E", PlatformName: "12A", ObservedAt: started},
		{RouteID: "9", RouteNumber: "500D", ObservedAt: started},
	}
	failed := []dataset.FailedQuery{
		{Seed: "100", Target: "200", Date: "2024-03-10 00:00", Level: 0, Kind: "service", Reason: "No records",
			Response: json.RawMessage(`{"Issuccess":false}`), RecordedAt: started},
	}
	return run, records, failed
}

func TestSaveRunAndList(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	run, records, failed := sampleRun()

	if err := database.SaveRun(ctx, run, records, failed); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	got, err := database.ListRecords(ctx, "majestic", RecordFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(records, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}

	resolved := true
	got, err = database.ListRecords(ctx, "majestic", RecordFilter{Resolved: &resolved})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].RouteID != "55" {
		t.Errorf("resolved filter returned %+v", got)
	}

	runs, err := database.ListRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]dataset.Run{run}, runs); diff != "" {
		t.Errorf("runs mismatch (-want +got):\n%s", diff)
	}

	gotFailed, err := database.ListFailedQueries(ctx, run.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(failed, gotFailed); diff != "" {
		t.Errorf("failed queries mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveRunUpsertsRecords(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	run, records, _ := sampleRun()
	if err := database.SaveRun(ctx, run, records, nil); err != nil {
		t.Fatal(err)
	}

	second := run
	second.RunID = "run-2"
	second.StartedAt = run.StartedAt.Add(time.Hour)
	updated := dataset.RouteRecord{RouteID: "9", RouteNumber: "500D", PlatformNumber: "4", ObservedAt: second.StartedAt}
	if err := database.SaveRun(ctx, second, []dataset.RouteRecord{updated}, nil); err != nil {
		t.Fatal(err)
	}

	got, err := database.GetRecord(ctx, "majestic", "9")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(updated, *got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}

	all, err := database.ListRecords(ctx, "majestic", RecordFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 records, got %d", len(all))
	}

	runs, err := database.ListRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-2" {
		t.Errorf("expected newest run first, got %+v", runs)
	}
}

func TestGetRecordNotFound(t *testing.T) {
	database := openTestDB(t)
	if _, err := database.GetRecord(context.Background(), "majestic", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := database.ListRecords(context.Background(), "missing", RecordFilter{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown dataset, got %v", err)
	}
	if _, err := database.ListFailedQueries(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown run, got %v", err)
	}
}

func TestSaveRunKeepsDatasetsApart(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	run, _, _ := sampleRun()
	majestic := dataset.RouteRecord{RouteID: "55", RouteNumber: "335E", PlatformName: "12A", ObservedAt: run.StartedAt}
	if err := database.SaveRun(ctx, run, []dataset.RouteRecord{majestic}, nil); err != nil {
		t.Fatal(err)
	}

	other := run
	other.RunID = "run-2"
	other.Name = "shivajinagar"
	other.StartedAt = run.StartedAt.Add(time.Hour)
	shivajinagar := dataset.RouteRecord{RouteID: "55", RouteNumber: "335E", PlatformName: "3", ObservedAt: other.StartedAt}
	if err := database.SaveRun(ctx, other, []dataset.RouteRecord{shivajinagar}, nil); err != nil {
		t.Fatal(err)
	}

	for name, want := range map[string]dataset.RouteRecord{"majestic": majestic, "shivajinagar": shivajinagar} {
		got, err := database.ListRecords(ctx, name, RecordFilter{})
		if err != nil {
			t.Fatalf("ListRecords(%s) failed: %v", name, err)
		}
		if diff := cmp.Diff([]dataset.RouteRecord{want}, got); diff != "" {
			t.Errorf("%s records mismatch (-want +got):\n%s", name, diff)
		}

		rec, err := database.GetRecord(ctx, name, "55")
		if err != nil {
			t.Fatal(err)
		}
		if rec.PlatformName != want.PlatformName {
			t.Errorf("%s: platform = %q, want %q", name, rec.PlatformName, want.PlatformName)
		}
	}

	names, err := database.ListDatasets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"majestic", "shivajinagar"}, names); diff != "" {
		t.Errorf("datasets mismatch (-want +got):\n%s", diff)
	}
}
