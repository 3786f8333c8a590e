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
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/fatih/color"
	"github.com/sstun/sstun/std"
	"github.com/urfave/cli"
)

const (
	// SALT is used as the PBKDF2 salt while deriving the shared session key.
	SALT = "sstun"
	// defaultTimeout is the server connect deadline in seconds.
	defaultTimeout = 60
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		// Enable timestamps + file:line to simplify debugging self-built binaries.
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "sstun"
	myApp.Usage = "client(port forwarder)"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "localaddr, l",
			Value: ":12948",
			Usage: "local listen address",
		},
		cli.StringFlag{
			Name:  "remoteaddr, r",
			Value: "vps:8388",
			Usage: `sstun server address, eg: "IP:8388" for a single port, "IP:minport-maxport" for port range`,
		},
		cli.StringFlag{
			Name:  "target, T",
			Usage: "destination forwarded through the tunnel, host:port",
		},
		cli.StringFlag{
			Name:   "key, k",
			Usage:  "pre-shared secret between client and server",
			EnvVar: "SSTUN_KEY",
		},
		cli.StringFlag{
			Name:  "method, m",
			Usage: "table, rc4, aes-128-ctr, aes-192-ctr, aes-256-ctr, blowfish, twofish, cast5, 3des, tea, xtea, chacha20, qpp, none",
		},
		cli.IntFlag{
			Name:  "timeout, t",
			Usage: "server connect timeout in seconds",
		},
		cli.IntFlag{
			Name:  "qppcount",
			Usage: "the prime number of pads to use for the qpp method. Each pad requires 256 bytes.",
		},
		cli.StringFlag{
			Name:  "snmplog",
			Value: "",
			Usage: "collect snmp to file, aware of timeformat in golang, like: ./snmp-20060102.log",
		},
		cli.IntFlag{
			Name:  "snmpperiod",
			Value: 0,
			Usage: "snmp collect period, in seconds",
		},
		cli.BoolFlag{
			Name:  "pprof",
			Usage: "start profiling server on :6060",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "to suppress the 'stream open/close' messages",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: "verbose logging",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "", // when set, the JSON file must exist on disk
			Usage: "config from json file, command line flags override its values",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		config := Config{}
		config.LocalAddr = c.String("localaddr")
		config.RemoteAddr = c.String("remoteaddr")
		config.Target = c.String("target")
		config.Key = c.String("key")
		config.Method = c.String("method")
		config.Timeout = c.Int("timeout")
		config.Verbose = c.Bool("verbose")
		config.Log = c.String("log")
		config.SnmpLog = c.String("snmplog")
		config.SnmpPeriod = c.Int("snmpperiod")
		config.Pprof = c.Bool("pprof")
		config.Quiet = c.Bool("quiet")
		config.QPPCount = c.Int("qppcount")

		if c.String("c") != "" {
			// Only JSON configuration files are supported at the moment.
			var fileConfig Config
			err := parseJSONConfig(&fileConfig, c.String("c"))
			checkError(err)
			config.fillFrom(&fileConfig)
		}

		if config.Method == "" {
			config.Method = "rc4"
		}
		if config.Timeout == 0 {
			config.Timeout = defaultTimeout
		}
		if config.QPPCount == 0 {
			config.QPPCount = std.DefaultQPPCount
		}
		if config.Target == "" {
			log.Println("forward target is required (--target)")
			cli.ShowAppHelp(c)
			os.Exit(1)
		}
		if config.Key == "" {
			log.Println("pre-shared key is required (-k)")
			cli.ShowAppHelp(c)
			os.Exit(1)
		}

		// Redirect logs when the user supplied a dedicated log file.
		if config.Log != "" {
			f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			checkError(err)
			defer f.Close()
			log.SetOutput(f)
		}

		log.Println("version:", VERSION)
		log.Println("listening on:", config.LocalAddr)
		log.Println("server:", config.RemoteAddr)
		log.Println("target:", config.Target)
		log.Println("encryption:", config.Method)
		log.Println("timeout:", config.Timeout)

		crypt := initCrypt(&config)
		config.Method = crypt.Method()

		// The destination header is fixed for the lifetime of the
		// process; build and validate it up front.
		header, err := std.AppendAddr(nil, config.Target)
		checkError(err)

		mp, err := std.ParseMultiPort(config.RemoteAddr)
		checkError(err)

		// Start the SNMP logger if the feature is enabled.
		go std.SnmpLogger(config.SnmpLog, config.SnmpPeriod)

		// Start the pprof server if the feature is enabled.
		if config.Pprof {
			go http.ListenAndServe(":6060", nil)
		}

		lis, err := net.Listen("tcp", config.LocalAddr)
		checkError(err)
		log.Printf("Listening on: %v/tcp", lis.Addr())

		for {
			conn, err := lis.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				log.Printf("%+v", err)
				continue
			}
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.SetKeepAlive(true)
			}
			go handleClient(crypt, mp, header, conn, &config)
		}
	}
	myApp.Run(os.Args)
}

// initCrypt derives the session key and builds the cipher context
// factory, mirroring the server side.
func initCrypt(config *Config) *std.Crypt {
	if strings.EqualFold(config.Method, "qpp") {
		warnings, err := std.ValidateQPPParams(config.QPPCount, config.Key)
		checkError(err)
		for _, w := range warnings {
			color.Red("%s", w)
		}
		crypt, err := std.NewQPPCrypt([]byte(config.Key), config.QPPCount)
		checkError(err)
		return crypt
	}

	log.Println("initiating key derivation")
	pass := pbkdf2.Key([]byte(config.Key), []byte(SALT), 4096, 32, sha1.New)
	log.Println("key derivation done")
	crypt, err := std.NewCrypt(config.Method, pass)
	checkError(err)
	return crypt
}

// handleClient forwards one local connection through the tunnel: dial
// a server port from the configured range, send the encrypted
// destination header, then pipe bytes both ways.
func handleClient(crypt *std.Crypt, mp *std.MultiPort, header []byte, p1 net.Conn, config *Config) {
	logln := func(v ...any) {
		if !config.Quiet {
			log.Println(v...)
		}
	}

	remote := fmt.Sprintf("%v:%v", mp.Host, mp.MinPort+uint64(rand.Intn(int(mp.MaxPort-mp.MinPort+1))))
	p2, err := net.DialTimeout("tcp", remote, time.Duration(config.Timeout)*time.Second)
	if err != nil {
		log.Println("connect:", err)
		p1.Close()
		return
	}

	enc, dec, err := crypt.NewPair()
	if err != nil {
		log.Println("cipher context:", err)
		p1.Close()
		p2.Close()
		return
	}
	port := std.NewCipherPort(p2, enc, dec)

	// CipherPort.Write encrypts in place; hand it a private copy so
	// the shared header survives for the next connection.
	hdr := append([]byte(nil), header...)
	if _, err := port.Write(hdr); err != nil {
		log.Println("header:", err)
		p1.Close()
		port.Close()
		return
	}

	logln("stream opened", "in:", p1.RemoteAddr(), "out:", remote)
	defer logln("stream closed", "in:", p1.RemoteAddr(), "out:", remote)

	// Begin piping data bidirectionally between the local application
	// and the tunnel.
	toTunnel, toApp := std.Pipe(p1, port)

	// Report non-EOF errors so operators can diagnose failing streams.
	if toTunnel != nil && toTunnel != io.EOF {
		logln("pipe:", toTunnel, "in:", p1.RemoteAddr(), "out:", remote)
	}
	if toApp != nil && toApp != io.EOF {
		logln("pipe:", toApp, "in:", p1.RemoteAddr(), "out:", remote)
	}
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
