/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Wed Feb 20 09:12:44 2019 mstenber
 * Last modified: Wed Feb 20 12:40:02 2019 mstenber
 * Edit time:     39 min
 *
 */

package main

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stvp/assert"

	"github.com/fingon/go-btrfsfw/fstest"
	"github.com/fingon/go-btrfsfw/ondisk"
)

// resetFlags puts every flag back to its default, as the commands are
// package globals that keep their flag values between runs.
func resetFlags() {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	rootCmd.PersistentFlags().VisitAll(reset)
	for _, c := range rootCmd.Commands() {
		c.Flags().VisitAll(reset)
	}
}

func run(args ...string) (string, error) {
	resetFlags()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(ioutil.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeImage(t *testing.T, img *fstest.Image) []string {
	dir := t.TempDir()
	var ret []string
	for i, dev := range img.Devices {
		path := filepath.Join(dir, fmt.Sprintf("dev%d.img", i))
		f, err := os.Create(path)
		assert.Nil(t, err)
		_, err = io.Copy(f, io.NewSectionReader(dev, 0, int64(dev.Size())))
		assert.Nil(t, err)
		assert.Nil(t, f.Close())
		ret = append(ret, path)
	}
	return ret
}

func deviceArgs(paths []string) []string {
	var ret []string
	for _, p := range paths {
		ret = append(ret, "--device", p)
	}
	return ret
}

func sampleImage(opts fstest.Options) *fstest.Image {
	b := fstest.NewBuilder(opts)
	r := b.Root()
	r.File("hello.txt", []byte("hello"))
	r.Mkdir("dir").File("inner", []byte("inner content"))
	r.Symlink("link", "dir/inner")
	r.Subvolume("sub").File("subfile", []byte("sub"))
	return b.Build()
}

func TestCommands(t *testing.T) {
	devs := deviceArgs(writeImage(t, sampleImage(fstest.Options{Label: "cli"})))
	cmd := func(args ...string) (string, error) {
		return run(append(args, devs...)...)
	}

	out, err := cmd("ls")
	assert.Nil(t, err)
	assert.Equal(t, out, "dir\nhello.txt\nlink\nsub\n")

	out, err = cmd("ls", "sub")
	assert.Nil(t, err)
	assert.Equal(t, out, "subfile\n")

	out, err = cmd("ls", "-l", "dir")
	assert.Nil(t, err)
	assert.True(t, strings.Contains(out, "-rw-r--r--"), out)
	assert.True(t, strings.Contains(out, "inner"), out)

	out, err = cmd("ls", "-l", "link")
	assert.Nil(t, err, out)
	assert.True(t, strings.Contains(out, "inner"), out)

	out, err = cmd("cat", "hello.txt", "link")
	assert.Nil(t, err)
	assert.Equal(t, out, "helloinner content")

	_, err = cmd("cat", "dir")
	assert.NotEqual(t, err, nil)

	_, err = cmd("cat", "nope")
	assert.NotEqual(t, err, nil)

	out, err = cmd("readlink", "link")
	assert.Nil(t, err)
	assert.Equal(t, out, "dir/inner\n")

	out, err = cmd("stat", "link")
	assert.Nil(t, err)
	assert.True(t, strings.Contains(out, "Type: symlink"), out)

	out, err = cmd("stat", "hello.txt")
	assert.Nil(t, err)
	assert.True(t, strings.Contains(out, "Size: 5 "), out)

	out, err = cmd("df")
	assert.Nil(t, err)
	assert.True(t, strings.Contains(out, `Label: "cli"`), out)
	assert.True(t, strings.Contains(out, "Devices: 1 of 1 attached"), out)
	assert.True(t, strings.Contains(out, "data+metadata/single"), out)

	out, err = cmd("subvolumes")
	assert.Nil(t, err)
	assert.True(t, strings.Contains(out, "256"), out)

	_, err = cmd("verify")
	assert.Nil(t, err)

	_, err = run("ls")
	assert.NotEqual(t, err, nil)
}

func TestMultiDevice(t *testing.T) {
	img := sampleImage(fstest.Options{Profile: ondisk.BlockGroupRAID1})
	devs := deviceArgs(writeImage(t, img))

	out, err := run(append([]string{"cat", "dir/inner"}, devs...)...)
	assert.Nil(t, err)
	assert.Equal(t, out, "inner content")

	out, err = run(append([]string{"df"}, devs...)...)
	assert.Nil(t, err)
	assert.True(t, strings.Contains(out, "Devices: 2 of 2 attached"), out)

	out, err = run(append([]string{"verify"}, devs...)...)
	assert.Nil(t, err, out)

	// The second device alone holds a full copy
	out, err = run(append([]string{"cat", "hello.txt"}, devs[2:]...)...)
	assert.Nil(t, err)
	assert.Equal(t, out, "hello")
}

func TestImport(t *testing.T) {
	paths := writeImage(t, sampleImage(fstest.Options{}))
	for _, x := range []struct{ backend, codec string }{
		{"bolt", "lz4"}, {"badger", "snappy"}, {"bolt", ""}} {
		store := filepath.Join(t.TempDir(), "store")
		args := []string{"import", "--backend", x.backend, paths[0], store}
		if x.codec != "" {
			args = append(args, "--codec", x.codec)
		}
		out, err := run(args...)
		assert.Nil(t, err, x)
		assert.True(t, strings.HasPrefix(out, store), out)

		args = []string{"cat", "--backend", x.backend, "--device", store, "dir/inner"}
		if x.codec != "" {
			args = append(args, "--codec", x.codec)
		}
		out, err = run(args...)
		assert.Nil(t, err, x)
		assert.Equal(t, out, "inner content")
	}

	_, err := run("import", "--backend", "file", paths[0], paths[0]+".x")
	assert.NotEqual(t, err, nil)
}
