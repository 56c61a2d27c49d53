package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/goblisp/goblisp/flasher"
)

// Most commands need this, so... yeah
func PrintJson(obj interface{}) {
	rawjson, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		log.Fatalln("Couldn't serialize json: ", err)
	}
	fmt.Println(string(rawjson))
}

// Get a filesafe datetime, condensed (local time, I hope)
func FileSafeDateTime() string {
	currentTime := time.Now()
	return currentTime.Format("20060102-150405")
}

// Quick way to fail on error, since most commands are "doing" something on
// behalf of something else.
func fatalIfErr(subject string, doing string, err error) {
	if err != nil {
		log.Fatalf("%s - Couldn't %s: %s", subject, doing, err)
	}
}

func forceCreate(fp string) *os.File {
	f, err := os.Create(fp)
	fatalIfErr(fp, "create write file", err)
	return f
}

// Decimal, or hex with 0x in front
func parseNumber(raw string) (int64, error) {
	return strconv.ParseInt(raw, 0, 64)
}

func parseAddress(raw string) (uint32, error) {
	value, err := strconv.ParseUint(raw, 0, 32)
	return uint32(value), err
}

func hexString(value uint32) string {
	return fmt.Sprintf("0x%08X", value)
}

// Log progress every 10 percent, rather than every chunk
func progressPrinter() flasher.ProgressFunc {
	last := -1
	return func(current, total int) {
		if total <= 0 {
			return
		}
		step := current * 10 / total
		if step != last {
			last = step
			log.Printf("Written %d/%d bytes (%d%%)\n", current, total, current*100/total)
		}
	}
}

func logState(state flasher.State) {
	switch state {
	case flasher.StatePrepared:
		log.Printf("Device ready for flashing\n")
	case flasher.StateChipErasing:
		log.Printf("Performing a chip erase, this might take a while...\n")
	case flasher.StateErasing:
		log.Printf("Erasing the area, this might take a while...\n")
	case flasher.StateWriting:
		log.Printf("Writing the data...\n")
	case flasher.StateVerifying:
		log.Printf("Checking program...\n")
	case flasher.StateResetting:
		log.Printf("Resetting the chip\n")
	}
}
