package remote

import (
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    Method
		wantErr bool
	}{
		{"", MethodAuto, false},
		{"auto", MethodAuto, false},
		{"sftp", MethodSFTP, false},
		{"webdav", MethodWebDAV, false},
		{"prefer_sftp", MethodPreferSFTP, false},
		{"prefer_webdav", MethodPreferWebDAV, false},
		{"ftp", "", true},
		{"SFTP", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMethod(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEqualNames_UnicodeForms(t *testing.T) {
	// Same name, composed (U+00E9) vs decomposed (e + combining acute).
	composed := "Amélie (2001).mkv"
	decomposed := "Amélie (2001).mkv"

	assert.NotEqual(t, composed, decomposed, "the byte sequences differ")
	assert.True(t, EqualNames(composed, decomposed))
	assert.Equal(t, NormalizeName(composed), NormalizeName(decomposed))
}

func TestIsHiddenName(t *testing.T) {
	assert.True(t, IsHiddenName(".DS_Store"))
	assert.True(t, IsHiddenName(".recodarr"))
	assert.False(t, IsHiddenName("movie.mkv"))
	assert.False(t, IsHiddenName("dir.with.dots"))
}

func TestPartName(t *testing.T) {
	assert.Equal(t, "/media/a.mkv.part", PartName("/media/a.mkv"))
}

func TestBackupName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/media/movies/Alpha (2019).mkv", "/media/movies/Alpha (2019).bak.mkv"},
		{"/media/README", "/media/README.bak"},
		{"/media/x.tar.gz", "/media/x.tar.bak.gz"},
		{"single.mp4", "single.bak.mp4"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BackupName(tt.in), tt.in)
	}
}

func TestSortEntries(t *testing.T) {
	entries := []Entry{
		{Name: "zulu.mkv", Type: EntryTypeFile},
		{Name: "shows", Type: EntryTypeDirectory},
		{Name: "alpha.mkv", Type: EntryTypeFile},
		{Name: "movies", Type: EntryTypeDirectory},
	}
	sortEntries(entries)

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	assert.Equal(t, []string{"movies", "shows", "alpha.mkv", "zulu.mkv"}, names)
}

type fakeFileInfo struct {
	name  string
	size  int64
	dir   bool
	mtime time.Time
}

func (f fakeFileInfo) Name() string       { return f.name }
func (f fakeFileInfo) Size() int64        { return f.size }
func (f fakeFileInfo) Mode() fs.FileMode  { return 0o644 }
func (f fakeFileInfo) ModTime() time.Time { return f.mtime }
func (f fakeFileInfo) IsDir() bool        { return f.dir }
func (f fakeFileInfo) Sys() any           { return nil }

func TestEntryFromInfo(t *testing.T) {
	mtime := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	entry := entryFromInfo("/media/movies", fakeFileInfo{name: "Alpha.mkv", size: 42, mtime: mtime})

	assert.Equal(t, "Alpha.mkv", entry.Name)
	assert.Equal(t, "/media/movies/Alpha.mkv", entry.Path)
	assert.Equal(t, EntryTypeFile, entry.Type)
	assert.Equal(t, int64(42), entry.Size)
	assert.Equal(t, mtime, entry.ModifiedAt)
	assert.False(t, entry.IsHidden)
	assert.False(t, entry.IsDir())

	dir := entryFromInfo("/media", fakeFileInfo{name: ".stage", dir: true})
	assert.True(t, dir.IsHidden)
	assert.True(t, dir.IsDir())
}
