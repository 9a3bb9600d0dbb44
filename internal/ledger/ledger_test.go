package ledger_test

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"fetchledger/internal/checksum"
	"fetchledger/internal/faults"
	"fetchledger/internal/ledger"
)

func fixedClock() func() time.Time {
	var mu sync.Mutex
	current := time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func digest(i int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("artifact-%d", i)))
	return hex.EncodeToString(sum[:])
}

func newLedger(t *testing.T) (*ledger.Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.csv")
	l, err := ledger.Create(path, ledger.Options{Now: fixedClock()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

func TestCreateWritesHeader(t *testing.T) {
	_, path := newLedger(t)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "artifactKey,digest,timestamp,rowHash\n" {
		t.Fatalf("unexpected header: %q", data)
	}
	if _, err := ledger.Create(path, ledger.Options{}); err == nil {
		t.Fatal("expected second Create to fail")
	}
}

func TestPkgAExampleRowHash(t *testing.T) {
	l, path := newLedger(t)
	aaaa := strings.Repeat("a", 64)

	row, err := l.Append("pkgA", "pool/pkgA_1.0.deb", aaaa)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	headerSum := sha256.Sum256([]byte("artifactKey,digest,timestamp,rowHash"))
	headerHash := hex.EncodeToString(headerSum[:])
	rowSum := sha256.Sum256([]byte(headerHash + "," + "pkgA," + aaaa + "," + row.Timestamp))
	want := hex.EncodeToString(rowSum[:])

	if row.Hash != want {
		t.Fatalf("row hash %s, want %s", row.Hash, want)
	}
	if _, err := time.Parse("2006-01-02 15:04:05", row.Timestamp); err != nil {
		t.Fatalf("timestamp %q: %v", row.Timestamp, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d lines", len(lines))
	}
	if lines[1] != "pkgA,"+aaaa+","+row.Timestamp+","+want {
		t.Fatalf("unexpected row line %q", lines[1])
	}
}

func TestRoundTripReplay(t *testing.T) {
	for _, n := range []int{0, 1, 7, 50} {
		t.Run(fmt.Sprintf("rows=%d", n), func(t *testing.T) {
			l, path := newLedger(t)
			var written []ledger.Row
			for i := range n {
				row, err := l.Append(fmt.Sprintf("key-%d", i), "", digest(i))
				if err != nil {
					t.Fatalf("Append %d: %v", i, err)
				}
				written = append(written, row)
			}

			var replayed []ledger.Row
			summary, err := ledger.ReplayFile(path, func(r ledger.Row) error {
				replayed = append(replayed, r)
				return nil
			})
			if err != nil {
				t.Fatalf("Replay: %v", err)
			}
			if summary.Rows != n || len(replayed) != n {
				t.Fatalf("expected %d rows, got %d/%d", n, summary.Rows, len(replayed))
			}
			for i := range written {
				if replayed[i] != written[i] {
					t.Fatalf("row %d: replayed %+v, written %+v", i, replayed[i], written[i])
				}
			}
			if summary.LastHash != l.LastHash() {
				t.Fatalf("last hash mismatch")
			}
		})
	}
}

func TestFlippedHashDetectedAtExactRow(t *testing.T) {
	const rows = 6
	l, path := newLedger(t)
	for i := range rows {
		if _, err := l.Append(fmt.Sprintf("key-%d", i), "", digest(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	original, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(string(original), "\n"), "\n")

	for target := 1; target <= rows; target++ {
		for _, pos := range []int{0, 31, 63} {
			mutated := append([]string(nil), lines...)
			fields := strings.Split(mutated[target], ",")
			hash := []byte(fields[3])
			if hash[pos] == '0' {
				hash[pos] = '1'
			} else {
				hash[pos] = '0'
			}
			fields[3] = string(hash)
			mutated[target] = strings.Join(fields, ",")

			var verified []string
			_, err := ledger.Replay(strings.NewReader(strings.Join(mutated, "\n")+"\n"), func(r ledger.Row) error {
				verified = append(verified, r.Key)
				return nil
			})
			var chainErr *ledger.ChainError
			if !errors.As(err, &chainErr) {
				t.Fatalf("row %d pos %d: expected ChainError, got %v", target, pos, err)
			}
			if chainErr.Row != target {
				t.Fatalf("row %d pos %d: break reported at row %d", target, pos, chainErr.Row)
			}
			if len(verified) != target-1 {
				t.Fatalf("row %d pos %d: %d rows verified past the break", target, pos, len(verified))
			}
			if !errors.Is(err, faults.ErrChainCorruption) {
				t.Fatal("ChainError must carry the chain corruption marker")
			}
		}
	}
}

func TestTamperedFieldsBreakChain(t *testing.T) {
	l, path := newLedger(t)
	for i := range 3 {
		if _, err := l.Append(fmt.Sprintf("key-%d", i), "", digest(i)); err != nil {
			t.Fatal(err)
		}
	}
	_ = l.Close()
	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")

	cases := map[string][]string{
		"swapped rows":  {lines[0], lines[2], lines[1], lines[3]},
		"dropped row":   {lines[0], lines[1], lines[3]},
		"edited digest": {lines[0], strings.Replace(lines[1], digest(0), digest(9), 1), lines[2], lines[3]},
		"bad header":    append([]string{"key,digest,timestamp,rowHash"}, lines[1:]...),
	}
	for name, mutated := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ledger.Replay(strings.NewReader(strings.Join(mutated, "\n")+"\n"), nil)
			if !errors.Is(err, faults.ErrChainCorruption) {
				t.Fatalf("expected chain corruption, got %v", err)
			}
		})
	}
}

func TestResumeContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	clock := fixedClock()
	l, err := ledger.Create(path, ledger.Options{Now: clock})
	if err != nil {
		t.Fatal(err)
	}
	for i := range 3 {
		if _, err := l.Append(fmt.Sprintf("key-%d", i), "", digest(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	resumed, err := ledger.Resume(path, ledger.Options{Now: clock})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	defer resumed.Close()
	if resumed.Len() != 3 || !resumed.Has("key-1") {
		t.Fatalf("unexpected recorded set: %v", resumed.Keys())
	}
	if _, err := resumed.Append("key-1", "", digest(1)); !errors.Is(err, ledger.ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if _, err := resumed.Append("key-3", "", digest(3)); err != nil {
		t.Fatalf("Append after resume: %v", err)
	}
	summary, err := ledger.ReplayFile(path, nil)
	if err != nil {
		t.Fatalf("Replay after resume: %v", err)
	}
	if summary.Rows != 4 {
		t.Fatalf("expected 4 rows, got %d", summary.Rows)
	}
}

func TestResumeAfterTornNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	clock := fixedClock()
	l, err := ledger.Create(path, ledger.Options{Now: clock})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Append("a", "", digest(0)); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(strings.TrimSuffix(string(data), "\n")), 0o644); err != nil {
		t.Fatal(err)
	}

	resumed, err := ledger.Resume(path, ledger.Options{Now: clock})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if _, err := resumed.Append("b", "", digest(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := resumed.Close(); err != nil {
		t.Fatal(err)
	}

	again, err := ledger.Resume(path, ledger.Options{Now: clock})
	if err != nil {
		t.Fatalf("second Resume: %v", err)
	}
	defer again.Close()
	if again.Len() != 2 || !again.Has("a") || !again.Has("b") {
		t.Fatalf("unexpected recorded set: %v", again.Keys())
	}
}

func TestResumeRejectsBrokenChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	content := ledger.Header + "\n" + "pkgA," + strings.Repeat("a", 64) + ",2024-01-01 00:00:00," + strings.Repeat("0", 64) + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := ledger.Resume(path, ledger.Options{})
	if !errors.Is(err, faults.ErrChainCorruption) {
		t.Fatalf("expected chain corruption, got %v", err)
	}
	if _, err := ledger.Resume(path, ledger.Options{}); !errors.Is(err, faults.ErrChainCorruption) {
		t.Fatalf("expected the lock to be released after a failed resume, got %v", err)
	}
}

func TestFinalize(t *testing.T) {
	l, path := newLedger(t)
	if _, err := l.Append("pkgA", "", digest(1)); err != nil {
		t.Fatal(err)
	}
	sentinel, err := l.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if sentinel.Key != ledger.SentinelKey || sentinel.Digest != checksum.EmptyDigest {
		t.Fatalf("unexpected sentinel %+v", sentinel)
	}
	if _, err := l.Append("pkgB", "", digest(2)); !errors.Is(err, ledger.ErrFinalized) {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
	if _, err := l.Finalize(); !errors.Is(err, ledger.ErrFinalized) {
		t.Fatalf("expected ErrFinalized on second finalize, got %v", err)
	}

	summary, err := ledger.ReplayFile(path, nil)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !summary.Finalized || summary.Rows != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	_ = l.Close()
	resumed, err := ledger.Resume(path, ledger.Options{})
	if err != nil {
		t.Fatalf("Resume finalized: %v", err)
	}
	defer resumed.Close()
	if !resumed.Finalized() {
		t.Fatal("expected resumed ledger to be finalized")
	}
	if _, err := resumed.Append("pkgC", "", digest(3)); !errors.Is(err, ledger.ErrFinalized) {
		t.Fatalf("expected ErrFinalized after resume, got %v", err)
	}
}

func TestRowAfterSentinelIsCorruption(t *testing.T) {
	l, path := newLedger(t)
	if _, err := l.Finalize(); err != nil {
		t.Fatal(err)
	}
	_ = l.Close()
	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	last := strings.Split(lines[len(lines)-1], ",")
	ts := "2024-01-01 00:00:00"
	extra := strings.Join([]string{"pkgZ", digest(5), ts, ledger.RowHash(last[3], "pkgZ", digest(5), ts)}, ",")

	_, err := ledger.Replay(strings.NewReader(string(data)+extra+"\n"), nil)
	var chainErr *ledger.ChainError
	if !errors.As(err, &chainErr) || chainErr.Row != 2 {
		t.Fatalf("expected chain error at row 2, got %v", err)
	}
}

func TestAppendValidation(t *testing.T) {
	l, _ := newLedger(t)
	if _, err := l.Append(ledger.SentinelKey, "", digest(1)); !errors.Is(err, ledger.ErrReservedKey) {
		t.Fatalf("expected reserved key error, got %v", err)
	}
	if _, err := l.Append("pkg", "", "xyz"); !errors.Is(err, checksum.ErrMalformedDigest) {
		t.Fatalf("expected malformed digest error, got %v", err)
	}
	if _, err := l.Append(" ", "", digest(1)); err == nil {
		t.Fatal("expected empty key error")
	}
	row, err := l.Append("MixedCase", "", strings.ToUpper(digest(1)))
	if err != nil {
		t.Fatal(err)
	}
	if row.Digest != digest(1) {
		t.Fatalf("digest not lower-cased: %s", row.Digest)
	}
}

func TestQuotedFieldsReplay(t *testing.T) {
	l, path := newLedger(t)
	if _, err := l.Append(`runtime,"jdk" 17`, "", digest(1)); err != nil {
		t.Fatal(err)
	}
	_ = l.Close()
	var keys []string
	if _, err := ledger.ReplayFile(path, func(r ledger.Row) error {
		keys = append(keys, r.Key)
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(keys) != 1 || keys[0] != `runtime,"jdk" 17` {
		t.Fatalf("unexpected keys %q", keys)
	}
}

func TestSecondWriterIsLockedOut(t *testing.T) {
	_, path := newLedger(t)
	if _, err := ledger.Resume(path, ledger.Options{}); !errors.Is(err, ledger.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestConcurrentAppends(t *testing.T) {
	for _, workers := range []int{2, 16} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			l, path := newLedger(t)
			var wg sync.WaitGroup
			errs := make(chan error, workers)
			for i := range workers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := l.Append(fmt.Sprintf("unit-%d", i), "", digest(i)); err != nil {
						errs <- err
					}
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatalf("Append: %v", err)
			}

			seen := map[string]bool{}
			summary, err := ledger.ReplayFile(path, func(r ledger.Row) error {
				seen[r.Key] = true
				return nil
			})
			if err != nil {
				t.Fatalf("Replay: %v", err)
			}
			if summary.Rows != workers || len(seen) != workers {
				t.Fatalf("expected %d rows, got %d", workers, summary.Rows)
			}
		})
	}
}
