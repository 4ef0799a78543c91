package main

import (
	"testing"
)

func TestDigestCheckReportsMissingBlocks(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"block", "create", "morning-show", "A", testDate}, env.configPath); err != nil {
		t.Fatalf("block create: %v", err)
	}

	out, _, err := runCLI(t, []string{"digest", "check", "morning-show", testDate}, env.configPath)
	if err != nil {
		t.Fatalf("digest check: %v", err)
	}
	requireContains(t, out, "Eligible:  no")
	requireContains(t, out, "1 of 4 blocks registered")

	out, _, err = runCLI(t, []string{"digest", "check", "--enqueue", "morning-show", testDate}, env.configPath)
	if err != nil {
		t.Fatalf("digest check --enqueue: %v", err)
	}
	requireContains(t, out, "Enqueued:  no")
}

func TestDigestCommandsValidateUnit(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"digest", "check", "evening-news", testDate}, env.configPath); err == nil {
		t.Fatal("expected unknown program to be rejected")
	}
	if _, _, err := runCLI(t, []string{"digest", "check", "morning-show", "14/10/2026"}, env.configPath); err == nil {
		t.Fatal("expected malformed date to be rejected")
	}
	if _, _, err := runCLI(t, []string{"digest", "show", "morning-show", testDate}, env.configPath); err == nil {
		t.Fatal("expected missing digest to be reported")
	}
}

func TestDigestListAndSweepOnEmptyStore(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"digest", "list"}, env.configPath); err != nil {
		t.Fatalf("digest list: %v", err)
	}
	if _, _, err := runCLI(t, []string{"digest", "sweep"}, env.configPath); err != nil {
		t.Fatalf("digest sweep: %v", err)
	}
}
