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
	"log"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/fatih/color"
	"github.com/sstun/sstun/std"
	"github.com/urfave/cli"
)

const (
	// SALT is used as the PBKDF2 salt while deriving the shared session key.
	SALT = "sstun"
	// defaultTimeout is the upstream connect deadline in seconds.
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
	myApp.Usage = "server"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringSliceFlag{
			Name:  "server, s",
			Usage: "bind address, repeatable to listen on several interfaces",
		},
		cli.StringFlag{
			Name:  "port, p",
			Usage: `bind port, eg: "8388" for a single port, "8000-8010" for a port range`,
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
			Usage: "upstream connect timeout in seconds",
		},
		cli.StringFlag{
			Name:  "pidfile, f",
			Usage: "write the process id to this file",
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
		config.Server = c.StringSlice("server")
		config.ServerPort = c.String("port")
		config.Key = c.String("key")
		config.Method = c.String("method")
		config.Timeout = c.Int("timeout")
		config.PidFile = c.String("pidfile")
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
		if len(config.Server) == 0 {
			log.Println("at least one bind address is required (-s)")
			cli.ShowAppHelp(c)
			os.Exit(1)
		}
		if config.ServerPort == "" {
			log.Println("bind port is required (-p)")
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
		log.Println("listening on:", config.Server, "port:", config.ServerPort)
		log.Println("encryption:", config.Method)
		log.Println("timeout:", config.Timeout)
		log.Println("snmplog:", config.SnmpLog)
		log.Println("snmpperiod:", config.SnmpPeriod)
		log.Println("pprof:", config.Pprof)
		log.Println("quiet:", config.Quiet)

		crypt := initCrypt(&config)
		config.Method = crypt.Method()

		if config.PidFile != "" {
			err := os.WriteFile(config.PidFile, []byte(strconv.Itoa(os.Getpid())), 0644)
			checkError(err)
		}

		// Start the SNMP logger if the feature is enabled.
		go std.SnmpLogger(config.SnmpLog, config.SnmpPeriod)

		// Start the pprof server if the feature is enabled.
		if config.Pprof {
			go http.ListenAndServe(":6060", nil)
		}

		// Stand up one listener per bind host and port in the range.
		var wg sync.WaitGroup
		for _, host := range config.Server {
			mp, err := std.ParseMultiPort(host + ":" + config.ServerPort)
			checkError(err)

			for port := mp.MinPort; port <= mp.MaxPort; port++ {
				listenAddr := fmt.Sprintf("%v:%v", mp.Host, port)
				lis, err := net.Listen("tcp", listenAddr)
				checkError(err)
				log.Printf("Listening on: %v/tcp", listenAddr)
				wg.Add(1)
				go func() {
					defer wg.Done()
					serve(lis, crypt, &config)
				}()
			}
		}

		wg.Wait()
		return nil
	}
	myApp.Run(os.Args)
}

// initCrypt derives the session key and builds the cipher context
// factory. Any problem here is a startup failure.
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

	// Derive the shared session key from the pre-shared secret.
	log.Println("initiating key derivation")
	pass := pbkdf2.Key([]byte(config.Key), []byte(SALT), 4096, 32, sha1.New)
	log.Println("key derivation done")
	crypt, err := std.NewCrypt(config.Method, pass)
	checkError(err)
	return crypt
}

// serve accepts client sockets and spawns a relay session per
// connection. Transient accept errors are logged and the listener
// stays armed; only a closed listener stops the loop.
func serve(lis net.Listener, crypt *std.Crypt, config *Config) {
	for {
		conn, err := lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("%+v", err)
			continue
		}
		if config.Verbose {
			log.Println("remote address:", conn.RemoteAddr())
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetKeepAlive(true)
		}
		go handleConn(conn, crypt, config)
	}
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
