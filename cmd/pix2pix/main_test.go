package main

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pix2pix "pix2pix/src"
)

func TestLogLevel(t *testing.T) {
	cases := []struct {
		value string
		want  slog.Level
	}{
		{"", slog.LevelInfo},
		{"1", slog.LevelDebug},
		{"true", slog.LevelDebug},
		{"false", slog.LevelInfo},
		{"2", slog.Level(-8)},
		{"'1'", slog.LevelDebug},
	}
	for _, tt := range cases {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("PIX2PIX_DEBUG", tt.value)
			assert.Equal(t, tt.want, logLevel())
		})
	}
}

func TestModelOptionsFromFlags(t *testing.T) {
	cmd := newSummaryCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"--direction", "BtoA",
		"--ngf", "8",
		"--num-downs", "6",
		"--gan-mode", "lsgan",
		"--lr-policy", "cosine",
		"--gpu-ids", "0,1",
		"--half-precision",
	}))
	o, err := modelOptions(cmd)
	require.NoError(t, err)
	assert.Equal(t, "BtoA", o.Direction)
	assert.Equal(t, 8, o.NGF)
	assert.Equal(t, 6, o.NumDowns)
	assert.Equal(t, "lsgan", o.GANMode)
	assert.Equal(t, "cosine", o.LRPolicy)
	assert.Equal(t, []int{0, 1}, o.GPUIDs)
	assert.True(t, o.HalfPrecision)
	assert.Nil(t, o.Widths)
}

func TestModelOptionsDistillNeedsPretrain(t *testing.T) {
	cmd := newSummaryCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--lambda-distill", "1"}))
	_, err := modelOptions(cmd)
	assert.True(t, errors.Is(err, pix2pix.ErrPretrainMissing))
}

func TestModelOptionsWidthsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widths.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"channels":[1,2,3],"filters":[1,2,3]}`), 0o644))

	cmd := newSummaryCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--widths", path}))
	_, err := modelOptions(cmd)
	assert.True(t, errors.Is(err, pix2pix.ErrInvalidWidths))
}

func TestDataOptionsFollowDirection(t *testing.T) {
	cmd := newTrainCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"--dataroot", "facades",
		"--input-nc", "1",
		"--direction", "BtoA",
		"--serial-batches",
		"--batch-size", "4",
	}))
	o, err := modelOptions(cmd)
	require.NoError(t, err)
	d := dataOptions(cmd, o, "train")
	assert.Equal(t, filepath.Join("facades", "train"), d.Dir)
	assert.Equal(t, 3, d.ChannelsA)
	assert.Equal(t, 1, d.ChannelsB)
	assert.Equal(t, 4, d.BatchSize)
	assert.False(t, d.Shuffle)
}

func TestSummaryCommand(t *testing.T) {
	cmd := NewCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"summary", "--ngf", "4", "--ndf", "4", "--num-downs", "5"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "innermost")
	assert.Contains(t, out.String(), "FROZEN")
}
