package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"digital.vasic.vfs/pkg/transfer"
)

// console presents transfer progress and answers engine queries by
// prompting on the terminal. It is only used from the job goroutine.
type console struct {
	out   io.Writer
	errW  io.Writer
	in    *bufio.Reader
	quiet bool

	reportEvery time.Duration
	started     time.Time
	lastReport  time.Time
	last        transfer.ProgressInfo
}

func newConsole(in io.Reader, out, errW io.Writer, quiet bool) *console {
	return &console{
		out:         out,
		errW:        errW,
		in:          bufio.NewReader(in),
		quiet:       quiet,
		reportEvery: 5 * time.Second,
		started:     time.Now(),
	}
}

func (c *console) Progress(info *transfer.ProgressInfo) transfer.TickAction {
	c.last = *info
	if c.quiet {
		return transfer.TickContinue
	}

	switch info.Phase {
	case transfer.PhaseFileCompleted:
		if info.FileSize > 0 || info.BytesCopied > 0 {
			fmt.Fprintf(c.out, "%s  %s\n", info.TargetName, formatBytes(info.FileSize))
		} else {
			fmt.Fprintln(c.out, info.TargetName)
		}
	case transfer.PhaseCopying:
		if time.Since(c.lastReport) >= c.reportEvery && time.Since(c.started) >= c.reportEvery {
			c.lastReport = time.Now()
			c.printProgress()
		}
	}
	return transfer.TickContinue
}

func (c *console) printProgress() {
	info := c.last
	elapsed := time.Since(c.started)
	rate := float64(info.TotalBytesCopied) / elapsed.Seconds()
	var eta time.Duration
	if rate > 0 && info.BytesTotal > info.TotalBytesCopied {
		eta = time.Duration(float64(info.BytesTotal-info.TotalBytesCopied) / rate * float64(time.Second))
	}
	fmt.Fprintf(c.errW, "progress: %.0f%% %s/%s %s/%s files %s eta %s\n",
		info.Percent(),
		formatBytes(info.TotalBytesCopied), formatBytes(info.BytesTotal),
		formatCount(info.FileIndex), formatCount(info.FilesTotal),
		formatRate(rate),
		formatETA(eta),
	)
}

// summary describes the finished transfer.
func (c *console) summary() string {
	elapsed := time.Since(c.started)
	rate := 0.0
	if elapsed > 0 {
		rate = float64(c.last.TotalBytesCopied) / elapsed.Seconds()
	}
	return fmt.Sprintf("%s of %s files, %s in %s (%s)",
		formatCount(c.last.FileIndex), formatCount(c.last.FilesTotal),
		formatBytes(c.last.TotalBytesCopied), formatDuration(elapsed), formatRate(rate))
}

func (c *console) Error(info *transfer.ProgressInfo, err error) transfer.ErrorAction {
	fmt.Fprintf(c.errW, "error: %v\n", err)
	switch c.ask("[r]etry, [s]kip or [a]bort? ", "rsa") {
	case 'r':
		return transfer.ErrorRetry
	case 's':
		return transfer.ErrorSkip
	default:
		return transfer.ErrorAbort
	}
}

func (c *console) Overwrite(info *transfer.ProgressInfo) transfer.OverwriteAction {
	fmt.Fprintf(c.errW, "%s already exists\n", info.TargetName)
	switch c.ask("[r]eplace, replace [a]ll, [s]kip, skip all [n], [q]uit? ", "rasnq") {
	case 'r':
		return transfer.OverwriteActionReplace
	case 'a':
		return transfer.OverwriteActionReplaceAll
	case 's':
		return transfer.OverwriteActionSkip
	case 'n':
		return transfer.OverwriteActionSkipAll
	default:
		return transfer.OverwriteActionAbort
	}
}

// Duplicate accepts the proposed name; unique naming never needs a prompt.
func (c *console) Duplicate(info *transfer.ProgressInfo) transfer.DuplicateAction {
	return transfer.RenameTo(info.DuplicateName)
}

// ask prompts until the first letter of the answer is one of valid. It
// returns 0 when input ends.
func (c *console) ask(prompt, valid string) byte {
	for {
		fmt.Fprint(c.errW, prompt)
		line, err := c.in.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		if answer != "" && strings.IndexByte(valid, answer[0]) >= 0 {
			return answer[0]
		}
		if err != nil {
			fmt.Fprintln(c.errW)
			return 0
		}
	}
}
