package terminate

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/olekukonko/tablewriter"

	"github.com/cipherline/cipherline/internal/shmem"
)

// semSnapshot is the counting-semaphore state sampled at the moment the
// shutdown trigger fired, before the wake amplification distorts it.
type semSnapshot struct {
	freeSpaces uint32
	readyItems uint32
}

// printStats renders the aggregate block and the per-process table from the
// stats tables in the header. The header is quiescent by now: every worker
// has deregistered.
func printStats(w io.Writer, h *shmem.Header, snap semSnapshot) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "run statistics")
	fmt.Fprintf(w, "  input file:        %s\n", h.InputFileName())
	fmt.Fprintf(w, "  file size:         %s\n", datasize.ByteSize(h.FileSize).HumanReadable())
	fmt.Fprintf(w, "  bytes dispatched:  %d of %d\n", h.ProcessedCount, h.FileSize)
	fmt.Fprintf(w, "  ring capacity:     %d\n", h.Capacity)
	fmt.Fprintf(w, "  transform key:     %#02x\n", h.XorKey)
	fmt.Fprintf(w, "  emitters:          %d total\n", h.TotalEmitters)
	fmt.Fprintf(w, "  receivers:         %d total\n", h.TotalReceivers)
	fmt.Fprintf(w, "  free spaces at trigger: %d of %d\n", snap.freeSpaces, h.Capacity)
	fmt.Fprintf(w, "  ready items at trigger: %d\n", snap.readyItems)
	fmt.Fprintln(w)

	var (
		rows          [][]string
		emitterBytes  int64
		receiverBytes int64
	)
	for i := int32(0); i < h.EmitterStatCount; i++ {
		rows = append(rows, statRow("emitter", &h.EmitterStats[i]))
		emitterBytes += h.EmitterStats[i].Bytes
	}
	for i := int32(0); i < h.ReceiverStatCount; i++ {
		rows = append(rows, statRow("receiver", &h.ReceiverStats[i]))
		receiverBytes += h.ReceiverStats[i].Bytes
	}

	t := tablewriter.NewWriter(w)
	t.SetHeader([]string{"role", "pid", "bytes", "started", "finished", "duration", "throughput"})
	t.AppendBulk(rows)
	t.SetFooter([]string{"total", "", strconv.FormatInt(emitterBytes+receiverBytes, 10), "", "", "", ""})
	t.Render()
	fmt.Fprintln(w)
}

func statRow(role string, s *shmem.StatRow) []string {
	start := time.Unix(0, s.StartTime)
	end := time.Unix(0, s.EndTime)
	d := end.Sub(start)

	throughput := "-"
	if secs := d.Seconds(); secs > 0 {
		rate := datasize.ByteSize(float64(s.Bytes) / secs)
		throughput = rate.HumanReadable() + "/s"
	}

	return []string{
		role,
		strconv.FormatInt(int64(s.PID), 10),
		strconv.FormatInt(s.Bytes, 10),
		start.Format("15:04:05.000"),
		end.Format("15:04:05.000"),
		d.Round(time.Millisecond).String(),
		throughput,
	}
}
