package rdf

import (
	"os"
	"path/filepath"
	"testing"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

/*
TestMergeFragments renames extension-less engine fragments to the canonical
extension, merges them in sorted order, and deletes each fragment after it
has been appended.
*/
func TestMergeFragments(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	write(t, filepath.Join(dir, "part-001"), "<b> <p> <o> .\n")
	write(t, filepath.Join(dir, "part-000"), "<a> <p> <o> .\n")
	write(t, filepath.Join(dir, "notes.txt"), "not a fragment\n")

	target, err := MergeFragments(dir, "sample")
	if err != nil {
		t.Fatalf("MergeFragments: %v", err)
	}
	if target != filepath.Join(dir, "sample.nq") {
		t.Fatalf("target = %q", target)
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	want := "<a> <p> <o> .\n<b> <p> <o> .\n"
	if string(got) != want {
		t.Fatalf("merged = %q; want %q", got, want)
	}

	for _, gone := range []string{"part-000", "part-001", "part-000.nq", "part-001.nq"} {
		if _, err := os.Stat(filepath.Join(dir, gone)); !os.IsNotExist(err) {
			t.Fatalf("fragment %s still present", gone)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Fatal("unrelated file was consumed by the merge")
	}
}

func TestMergeFragments_NoFragments(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	target, err := MergeFragments(dir, "empty")
	if err != nil {
		t.Fatalf("MergeFragments: %v", err)
	}
	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("merged artifact missing: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("merged size = %d; want empty artifact", info.Size())
	}
}

/*
TestFindArtifact prefers the .nt serialization over .nq when both exist.
*/
func TestFindArtifact(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	if _, found := FindArtifact(dir, "x"); found {
		t.Fatal("found artifact in empty dir")
	}

	write(t, filepath.Join(dir, "x.nq"), "")
	p, found := FindArtifact(dir, "x")
	if !found || p != filepath.Join(dir, "x.nq") {
		t.Fatalf("artifact = %q found=%v", p, found)
	}

	write(t, filepath.Join(dir, "x.nt"), "")
	p, found = FindArtifact(dir, "x")
	if !found || p != filepath.Join(dir, "x.nt") {
		t.Fatalf("artifact = %q found=%v; want .nt preferred", p, found)
	}
}

/*
TestCountStatements counts terminated statements only, skipping blank lines
and comments.
*/
func TestCountStatements(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "a.nq")
	write(t, path,
		"<a> <p> <o> .\n"+
			"\n"+
			"# a comment line\n"+
			"<b> <p> <o> .   \n"+
			"not a statement\n")

	n, err := CountStatements(path)
	if err != nil {
		t.Fatalf("CountStatements: %v", err)
	}
	if n != 2 {
		t.Fatalf("statements = %d; want 2", n)
	}

	if _, err := CountStatements(filepath.Join(t.TempDir(), "absent.nq")); err == nil {
		t.Fatal("expected error for missing artifact")
	}
}

func TestChecksum(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	write(t, a, "same content")
	write(t, b, "same content")

	ca, err := Checksum(a)
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	cb, err := Checksum(b)
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	if ca != cb {
		t.Fatalf("identical content hashed differently: %s vs %s", ca, cb)
	}
	if len(ca) != 16 {
		t.Fatalf("checksum %q is not fixed-width hex", ca)
	}

	write(t, b, "different content")
	cb, _ = Checksum(b)
	if ca == cb {
		t.Fatal("different content hashed identically")
	}
}

func TestSizes(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	write(t, filepath.Join(dir, "a"), "12345")
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	write(t, filepath.Join(sub, "b"), "123")

	if got := FileSize(filepath.Join(dir, "a")); got != 5 {
		t.Fatalf("FileSize = %d; want 5", got)
	}
	if got := FileSize(filepath.Join(dir, "absent")); got != 0 {
		t.Fatalf("FileSize(absent) = %d; want 0", got)
	}
	if got := DirSize(dir); got != 8 {
		t.Fatalf("DirSize = %d; want 8", got)
	}
}
