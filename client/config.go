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

package main

import (
	"encoding/json"
	"os"
)

// Config for client
type Config struct {
	LocalAddr  string `json:"localaddr"`
	RemoteAddr string `json:"remoteaddr"`
	Target     string `json:"target"`
	Key        string `json:"password"`
	Method     string `json:"method"`
	Timeout    int    `json:"timeout"`
	Verbose    bool   `json:"verbose"`
	Log        string `json:"log"`
	SnmpLog    string `json:"snmplog"`
	SnmpPeriod int    `json:"snmpperiod"`
	Pprof      bool   `json:"pprof"`
	Quiet      bool   `json:"quiet"`
	QPPCount   int    `json:"qpp_count"`
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path) // For read access.
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(config)
}

// fillFrom copies values from a config file into fields the command
// line left unset. Command-line values win.
func (c *Config) fillFrom(o *Config) {
	if c.LocalAddr == "" {
		c.LocalAddr = o.LocalAddr
	}
	if c.RemoteAddr == "" {
		c.RemoteAddr = o.RemoteAddr
	}
	if c.Target == "" {
		c.Target = o.Target
	}
	if c.Key == "" {
		c.Key = o.Key
	}
	if c.Method == "" {
		c.Method = o.Method
	}
	if c.Timeout == 0 {
		c.Timeout = o.Timeout
	}
	if !c.Verbose {
		c.Verbose = o.Verbose
	}
	if c.Log == "" {
		c.Log = o.Log
	}
	if c.SnmpLog == "" {
		c.SnmpLog = o.SnmpLog
	}
	if c.SnmpPeriod == 0 {
		c.SnmpPeriod = o.SnmpPeriod
	}
	if !c.Pprof {
		c.Pprof = o.Pprof
	}
	if !c.Quiet {
		c.Quiet = o.Quiet
	}
	if c.QPPCount == 0 {
		c.QPPCount = o.QPPCount
	}
}
