// The MIT License (MIT)
//
// # Copyright (c) 2016 sstun
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package std

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Snmp aggregates process-wide relay counters. Fields are updated
// atomically from session goroutines; the values are informational
// only and carry no correctness weight.
type Snmp struct {
	Accepted      uint64 // client connections accepted
	ClientConns   int64  // live client connections
	UpstreamConns int64  // live upstream connections
	BytesSent     uint64 // ciphertext bytes written to clients
	BytesReceived uint64 // ciphertext bytes read from clients
	HeaderErrors  uint64 // malformed destination headers
	DialErrors    uint64 // upstream resolution/connect failures
	DialTimeouts  uint64 // upstream connects that hit the deadline
	RelayErrors   uint64 // non-EOF errors during streaming
}

// DefaultSnmp is the package-wide counter set.
var DefaultSnmp = new(Snmp)

// Header returns the column names, index-aligned with ToSlice.
func (s *Snmp) Header() []string {
	return []string{
		"Accepted",
		"ClientConns",
		"UpstreamConns",
		"BytesSent",
		"BytesReceived",
		"HeaderErrors",
		"DialErrors",
		"DialTimeouts",
		"RelayErrors",
	}
}

// ToSlice returns a point-in-time snapshot formatted for logging.
func (s *Snmp) ToSlice() []string {
	snap := s.Copy()
	return []string{
		fmt.Sprint(snap.Accepted),
		fmt.Sprint(snap.ClientConns),
		fmt.Sprint(snap.UpstreamConns),
		fmt.Sprint(snap.BytesSent),
		fmt.Sprint(snap.BytesReceived),
		fmt.Sprint(snap.HeaderErrors),
		fmt.Sprint(snap.DialErrors),
		fmt.Sprint(snap.DialTimeouts),
		fmt.Sprint(snap.RelayErrors),
	}
}

// Copy makes an atomic snapshot of the counters.
func (s *Snmp) Copy() *Snmp {
	d := new(Snmp)
	d.Accepted = atomic.LoadUint64(&s.Accepted)
	d.ClientConns = atomic.LoadInt64(&s.ClientConns)
	d.UpstreamConns = atomic.LoadInt64(&s.UpstreamConns)
	d.BytesSent = atomic.LoadUint64(&s.BytesSent)
	d.BytesReceived = atomic.LoadUint64(&s.BytesReceived)
	d.HeaderErrors = atomic.LoadUint64(&s.HeaderErrors)
	d.DialErrors = atomic.LoadUint64(&s.DialErrors)
	d.DialTimeouts = atomic.LoadUint64(&s.DialTimeouts)
	d.RelayErrors = atomic.LoadUint64(&s.RelayErrors)
	return d
}

// Reset zeroes the monotonic counters; the live-connection gauges are
// left alone.
func (s *Snmp) Reset() {
	atomic.StoreUint64(&s.Accepted, 0)
	atomic.StoreUint64(&s.BytesSent, 0)
	atomic.StoreUint64(&s.BytesReceived, 0)
	atomic.StoreUint64(&s.HeaderErrors, 0)
	atomic.StoreUint64(&s.DialErrors, 0)
	atomic.StoreUint64(&s.DialTimeouts, 0)
	atomic.StoreUint64(&s.RelayErrors, 0)
}

// WriteSnmpRow appends one snapshot row to the CSV file at path,
// writing the header first when the file is empty. The filename part
// of path is passed through time.Format so operators can rotate by
// date, like: ./snmp-20060102.log
func WriteSnmpRow(path string) error {
	logdir, logfile := filepath.Split(path)
	f, err := os.OpenFile(logdir+time.Now().Format(logfile), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
		if err := w.Write(append([]string{"Unix"}, DefaultSnmp.Header()...)); err != nil {
			return err
		}
	}
	if err := w.Write(append([]string{fmt.Sprint(time.Now().Unix())}, DefaultSnmp.ToSlice()...)); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// SnmpLogger periodically dumps the counters as CSV; run it in its own
// goroutine. It returns at once when the interval is zero or the path
// is empty (collection disabled), and stops after the first failed
// write.
func SnmpLogger(path string, interval int) {
	if path == "" || interval == 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if err := WriteSnmpRow(path); err != nil {
			log.Println(err)
			return
		}
	}
}
