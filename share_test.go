package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/pansave/internal/pan"
	"github.com/tonimelisma/pansave/internal/panops"
)

func TestTransferJob(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
		check   func(t *testing.T, job panops.ShareJob)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, job panops.ShareJob) {
				assert.Empty(t, job.Password)
				assert.Empty(t, job.OnDuplicate)
				assert.False(t, job.Download)
			},
		},
		{
			name: "all flags",
			args: []string{"-p", "xyz9", "--to", "/Saved", "--on-duplicate", "overwrite", "--download", "-o", "dl"},
			check: func(t *testing.T, job panops.ShareJob) {
				assert.Equal(t, "xyz9", job.Password)
				assert.Equal(t, "/Saved", job.Destination)
				assert.Equal(t, pan.DuplicateOverwrite, job.OnDuplicate)
				assert.True(t, job.Download)
				assert.Equal(t, "dl", job.SaveDir)
			},
		},
		{
			name: "policy alias",
			args: []string{"--on-duplicate", "rename-copy"},
			check: func(t *testing.T, job panops.ShareJob) {
				assert.Equal(t, pan.DuplicateRenameCopy, job.OnDuplicate)
			},
		},
		{name: "bad policy", args: []string{"--on-duplicate", "skip"}, wantErr: "invalid --on-duplicate"},
		{name: "output needs download", args: []string{"-o", "dl"}, wantErr: "--output needs --download"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newTransferCmd()
			require.NoError(t, cmd.ParseFlags(tt.args))

			job, err := transferJob(cmd, "https://pan.baidu.com/s/1abc")
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "https://pan.baidu.com/s/1abc", job.ShareURL)
			tt.check(t, job)
		})
	}
}

func TestShareEntries(t *testing.T) {
	mod := time.Unix(1700000000, 0)

	entries := shareEntries([]pan.ShareFile{
		{FsID: 1, Filename: "game.zip", Path: "/sharelink1-2/game.zip", Size: 10, ModTime: mod},
		{FsID: 2, Filename: "extras", Path: "/sharelink1-2/extras", IsDir: true},
	})

	require.Len(t, entries, 2)
	assert.Equal(t, pan.FileEntry{FsID: 1, Name: "game.zip", Path: "/sharelink1-2/game.zip", Size: 10, ModTime: mod}, entries[0])
	assert.True(t, entries[1].IsDir)
	assert.Equal(t, "extras", entries[1].Name)
}
