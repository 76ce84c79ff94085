/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Tue Feb 19 19:12:30 2019 mstenber
 * Last modified: Wed Feb 20 12:14:52 2019 mstenber
 * Edit time:     38 min
 *
 */

package main

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/fingon/go-btrfsfw/mlog"
	"github.com/fingon/go-btrfsfw/volume"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare every copy of every chunk",
	Long: `verify reads each chunk through every mirror it has, and reports
unreadable and differing blocks. Parity chunks are read once, which
also exercises reconstruction of missing devices.`,
	Args: cobra.NoArgs,
	RunE: verifyFunc,
}

const verifyBlockSize = 65536

type chunkReport struct {
	copies             int
	blocks             int
	errors, mismatches int
}

func verifyChunk(v *volume.Volume, c volume.Chunk) (r chunkReport, err error) {
	r.copies, err = v.Mirrors(c.Logical)
	if err != nil {
		return
	}
	first := make([]byte, verifyBlockSize)
	buf := make([]byte, verifyBlockSize)
	for off := uint64(0); off < c.Item.Length; off += verifyBlockSize {
		n := c.Item.Length - off
		if n > verifyBlockSize {
			n = verifyBlockSize
		}
		addr := c.Logical + off
		r.blocks++
		haveFirst := false
		for m := 0; m < r.copies; m++ {
			dst := buf[:n]
			if !haveFirst {
				dst = first[:n]
			}
			if err := v.ReadMirror(addr, dst, m); err != nil {
				mlog.Printf2("cmd/btrfsfw/verify", "%#x mirror %d: %v", addr, m, err)
				r.errors++
				continue
			}
			if !haveFirst {
				haveFirst = true
				continue
			}
			if !bytes.Equal(first[:n], dst) {
				mlog.Printf2("cmd/btrfsfw/verify", "%#x mirror %d differs", addr, m)
				r.mismatches++
			}
		}
	}
	return r, nil
}

func verifyFunc(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	if s.Fs().IsSlave() {
		return errors.New("first device is not a volume master")
	}
	v := s.Fs().Volume()
	chunks, err := v.Chunks()
	if err != nil {
		return err
	}
	t := tablewriter.NewWriter(cmd.OutOrStdout())
	t.SetHeader([]string{"Logical", "Length", "Type", "Copies", "Errors", "Mismatches"})
	t.SetBorder(false)
	bad := 0
	for _, c := range chunks {
		r, err := verifyChunk(v, c)
		if err != nil {
			return err
		}
		bad += r.errors + r.mismatches
		t.Append([]string{fmt.Sprintf("%#x", c.Logical),
			humanize.IBytes(c.Item.Length),
			chunkType(c.Item.Type),
			strconv.Itoa(r.copies),
			strconv.Itoa(r.errors),
			strconv.Itoa(r.mismatches)})
	}
	t.Render()
	if bad > 0 {
		return errors.Errorf("%d bad blocks", bad)
	}
	return nil
}
