/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Tue Feb 19 18:40:51 2019 mstenber
 * Last modified: Wed Feb 20 12:02:33 2019 mstenber
 * Edit time:     44 min
 *
 */

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/fingon/go-btrfsfw/ondisk"
	"github.com/fingon/go-btrfsfw/volume"
)

var dfCmd = &cobra.Command{
	Use:   "df",
	Short: "Show volume usage and chunks",
	Args:  cobra.NoArgs,
	RunE:  dfFunc,
}

var subvolumesCmd = &cobra.Command{
	Use:   "subvolumes",
	Short: "List subvolumes",
	Args:  cobra.NoArgs,
	RunE:  subvolumesFunc,
}

var profileNames = []struct {
	bit  uint64
	name string
}{
	{ondisk.BlockGroupRAID0, "raid0"},
	{ondisk.BlockGroupRAID1, "raid1"},
	{ondisk.BlockGroupDUP, "dup"},
	{ondisk.BlockGroupRAID10, "raid10"},
	{ondisk.BlockGroupRAID5, "raid5"},
	{ondisk.BlockGroupRAID6, "raid6"},
	{ondisk.BlockGroupRAID1C3, "raid1c3"},
	{ondisk.BlockGroupRAID1C4, "raid1c4"},
}

// chunkType describes the type and profile bits, e.g. "data+metadata/raid1".
func chunkType(t uint64) string {
	var kinds []string
	for _, k := range []struct {
		bit  uint64
		name string
	}{{ondisk.BlockGroupData, "data"},
		{ondisk.BlockGroupMetadata, "metadata"},
		{ondisk.BlockGroupSystem, "system"}} {
		if t&k.bit != 0 {
			kinds = append(kinds, k.name)
		}
	}
	profile := "single"
	for _, p := range profileNames {
		if t&p.bit != 0 {
			profile = p.name
		}
	}
	return fmt.Sprintf("%s/%s", strings.Join(kinds, "+"), profile)
}

func dfFunc(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	st := s.Fs().Stat()
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Label: %q uuid: %v\n", st.Label, st.FSID)
	fmt.Fprintf(w, "Generation: %d checksum: %v sector: %d node: %d\n",
		st.Generation, st.CsumType, st.SectorSize, st.NodeSize)
	fmt.Fprintf(w, "Devices: %d of %d attached\n", st.Attached, st.NumDevices)
	fmt.Fprintf(w, "Size: %s used: %s\n", humanize.IBytes(st.TotalBytes),
		humanize.IBytes(st.BytesUsed))
	if s.Fs().IsSlave() {
		return nil
	}
	chunks, err := s.Fs().Volume().Chunks()
	if err != nil {
		return err
	}
	t := tablewriter.NewWriter(w)
	t.SetHeader([]string{"Logical", "Length", "Type", "Stripes", "Copies"})
	t.SetBorder(false)
	for _, c := range chunks {
		t.Append([]string{fmt.Sprintf("%#x", c.Logical),
			humanize.IBytes(c.Item.Length),
			chunkType(c.Item.Type),
			strconv.Itoa(len(c.Item.Stripes)),
			strconv.Itoa(volume.Copies(c.Item))})
	}
	t.Render()
	return nil
}

func subvolumesFunc(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	subs, err := s.Fs().Subvolumes()
	if err != nil {
		return err
	}
	t := tablewriter.NewWriter(cmd.OutOrStdout())
	t.SetHeader([]string{"ID", "Generation", "Level", "Root"})
	t.SetBorder(false)
	for _, sv := range subs {
		t.Append([]string{strconv.FormatUint(sv.ID, 10),
			humanize.Comma(int64(sv.Generation)),
			strconv.Itoa(int(sv.Level)),
			fmt.Sprintf("%#x", sv.Addr)})
	}
	t.Render()
	return nil
}
