// logdump prints the write-ahead log header of a disk image, for
// inspecting what a crashed system would redo at its next startup.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tchajed/marshal"

	"github.com/emberos/storage/common"
	"github.com/emberos/storage/disk"
)

func main() {
	start := flag.Uint64("start", 1, "sector of the log header")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [-start N] <image>\n", os.Args[0])
		os.Exit(2)
	}

	d, err := disk.NewFileDisk(flag.Arg(0), 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logdump: %v\n", err)
		os.Exit(1)
	}
	defer d.Close()

	size, err := d.Size()
	if err == nil && *start >= size {
		err = fmt.Errorf("header sector %d past end of %d-sector image",
			*start, size)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "logdump: %v\n", err)
		os.Exit(1)
	}

	blk, err := d.Read(*start)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logdump: read header: %v\n", err)
		os.Exit(1)
	}
	dec := marshal.NewDec(blk)
	count := dec.GetInt()
	sectors := dec.GetInts(common.LogSize)

	if count > common.LogSize {
		fmt.Fprintf(os.Stderr, "logdump: corrupt header: count %d > %d\n",
			count, common.LogSize)
		os.Exit(1)
	}
	fmt.Printf("log header at sector %d: %d committed sector(s)\n",
		*start, count)
	for i := uint64(0); i < count; i++ {
		fmt.Printf("  slot %2d: log sector %d -> home sector %d\n",
			i, *start+1+i, sectors[i])
	}
}
