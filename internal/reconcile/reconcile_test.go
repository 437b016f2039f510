package reconcile

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	lastSync = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	before   = lastSync.Add(-time.Hour)
	after    = lastSync.Add(time.Hour)
)

func rec(size int64, mod time.Time) FileRecord {
	return FileRecord{Size: size, ModTime: mod}
}

func TestReconcile_TableDriven(t *testing.T) {
	cases := []struct {
		name   string
		src    Listing
		dst    Listing
		wm     Watermark
		expect map[string]ConflictType
	}{
		{
			name:   "source only without watermark is added",
			src:    Listing{"a.txt": rec(10, before)},
			dst:    Listing{},
			wm:     Watermark{},
			expect: map[string]ConflictType{"a.txt": Added},
		},
		{
			name:   "destination only before watermark was deleted from source",
			src:    Listing{},
			dst:    Listing{"b.txt": rec(5, before)},
			wm:     Watermark{Time: lastSync, Valid: true},
			expect: map[string]ConflictType{"b.txt": DeletedFromSource},
		},
		{
			name:   "source only before watermark was deleted from dest",
			src:    Listing{"b.txt": rec(5, before)},
			dst:    Listing{},
			wm:     Watermark{Time: lastSync, Valid: true},
			expect: map[string]ConflictType{"b.txt": DeletedFromDest},
		},
		{
			name:   "modified exactly at watermark counts as before",
			src:    Listing{"b.txt": rec(5, lastSync)},
			dst:    Listing{},
			wm:     Watermark{Time: lastSync, Valid: true},
			expect: map[string]ConflictType{"b.txt": DeletedFromDest},
		},
		{
			name:   "one sided after watermark is added",
			src:    Listing{"new.txt": rec(5, after)},
			dst:    Listing{"other.txt": rec(7, after)},
			wm:     Watermark{Time: lastSync, Valid: true},
			expect: map[string]ConflictType{"new.txt": Added, "other.txt": Added},
		},
		{
			name:   "sizes differ",
			src:    Listing{"c.txt": rec(100, before)},
			dst:    Listing{"c.txt": rec(200, after)},
			wm:     Watermark{Time: lastSync, Valid: true},
			expect: map[string]ConflictType{"c.txt": SizeDifferent},
		},
		{
			name:   "same size is dropped even if times differ",
			src:    Listing{"same.txt": rec(42, before)},
			dst:    Listing{"same.txt": rec(42, after)},
			wm:     Watermark{Time: lastSync, Valid: true},
			expect: map[string]ConflictType{},
		},
		{
			name:   "zero sized one sided file still differs",
			src:    Listing{"empty": rec(0, after)},
			dst:    Listing{},
			wm:     Watermark{},
			expect: map[string]ConflictType{"empty": Added},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			diff := Reconcile(tc.src, tc.dst, tc.wm)
			require.Len(t, diff, len(tc.expect))
			for p, want := range tc.expect {
				require.Contains(t, diff, p)
				assert.Equal(t, want, diff[p].Type, p)
				assert.Equal(t, p, diff[p].Path)
			}
		})
	}
}

func TestReconcile_KeepsRecords(t *testing.T) {
	diff := Reconcile(Listing{"c.txt": rec(100, before)}, Listing{"c.txt": rec(200, after)}, Watermark{})

	e := diff["c.txt"]
	require.NotNil(t, e.Src)
	require.NotNil(t, e.Dst)
	assert.EqualValues(t, 100, e.Src.Size)
	assert.EqualValues(t, 200, e.Dst.Size)
	assert.True(t, e.Dst.ModTime.Equal(after))
}

func TestReconcile_DoesNotMutateInputs(t *testing.T) {
	src := Listing{"a": rec(1, before)}
	dst := Listing{"a": rec(2, before)}
	diff := Reconcile(src, dst, Watermark{})
	diff["a"].Src.Size = 99

	assert.EqualValues(t, 1, src["a"].Size)
}

// randomListings builds two overlapping listings with mod times spread around lastSync.
func randomListings(r *rand.Rand, n int) (Listing, Listing) {
	src, dst := Listing{}, Listing{}
	for i := 0; i < n; i++ {
		p := fmt.Sprintf("dir%d/file%d", r.Intn(4), i)
		mod := lastSync.Add(time.Duration(r.Intn(7200)-3600) * time.Second)
		size := int64(r.Intn(3))
		switch r.Intn(3) {
		case 0:
			src[p] = rec(size, mod)
		case 1:
			dst[p] = rec(size, mod)
		default:
			src[p] = rec(size, mod)
			dst[p] = rec(int64(r.Intn(3)), mod)
		}
	}
	return src, dst
}

func TestReconcile_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(7))

	for round := 0; round < 200; round++ {
		src, dst := randomListings(r, 30)
		valid := r.Intn(2) == 0
		wm := Watermark{Time: lastSync, Valid: valid}
		diff := Reconcile(src, dst, wm)

		for p, e := range diff {
			// every surviving entry carries exactly one classification
			require.NotEqual(t, Unset, e.Type, p)

			// equal sizes never survive
			if e.Src != nil && e.Dst != nil {
				require.NotEqual(t, e.Src.Size, e.Dst.Size, p)
			}

			// without a watermark nothing is a deletion
			if !valid {
				require.False(t, e.Type.IsDeletion(), p)
			}

			// modified after the watermark is never a deletion
			if (e.Src == nil) != (e.Dst == nil) {
				one := e.Src
				if one == nil {
					one = e.Dst
				}
				if one.ModTime.After(wm.Time) {
					require.Equal(t, Added, e.Type, p)
				}
			}
		}

		for p, s := range src {
			if d, ok := dst[p]; ok && d.Size == s.Size {
				require.NotContains(t, diff, p)
			}
		}
	}
}

func TestDiffMap_Helpers(t *testing.T) {
	diff := Reconcile(
		Listing{"b": rec(10, after), "a": rec(5, before)},
		Listing{"a": rec(7, before), "c": rec(3, after)},
		Watermark{Time: lastSync, Valid: true},
	)

	assert.Equal(t, []string{"a", "b", "c"}, diff.Paths())
	assert.Equal(t, map[ConflictType]int{SizeDifferent: 1, Added: 2}, diff.Counts())
	assert.EqualValues(t, 7+10+3, diff.Bytes())
}

func TestConflictType_String(t *testing.T) {
	assert.Equal(t, "deleted_from_source", DeletedFromSource.String())
	assert.Equal(t, "size_different", SizeDifferent.String())
	text, err := Added.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "added", string(text))
}
