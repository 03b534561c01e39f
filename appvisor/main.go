// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command appvisor implements a client application that communicate to
// appvisord.  It uses subcommands.
//
// The flags are
//
//	-a <address>	- select the server address, default is
//			  http://localhost:8321
//	-u <user:pass>	- user name & password for basic auth
//
// Subcommands are
//
//      apps                - list all applications
//      status [<app> ...]  - show status for the named applications (or all)
//      info <app>          - show more detailed application info
//      start <app>         - start the named application
//      stop <app>          - stop the named application
//      restart <app>       - stop, then start with a fresh restart count
//      clear <app>         - acknowledge a leaked process
//      log [<app>]         - state history of the application (or server)
//      watch <app>         - print each state change until interrupted
//      hash <password>     - print a bcrypt hash for appvisord -u
//
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/gdamore/appvisor/appvisor/util"
	"github.com/gdamore/appvisor/rest"
)

var addr string = "http://127.0.0.1:8321"
var auth string = ""

func usage() {
	log.Fatalf("Usage: %s [-a <address>] [-u <user:pass>] <subcommand>",
		os.Args[0])
}

func showStatus(a *rest.AppInfo) {
	d := time.Since(a.TimeStamp)
	// for printing second resolution is sufficient
	d -= d % time.Second
	fmt.Printf("%-16s %-16s %10s %s\n", a.Name,
		util.Status(a), d.String(), a.Status)
}

func showInfo(a *rest.AppInfo) {
	fmt.Printf("Name:      %s\n", a.Name)
	fmt.Printf("Status:    %s\n", util.Status(a))
	fmt.Printf("Since:     %s\n", util.FormatDuration(time.Since(a.TimeStamp)))
	fmt.Printf("Detail:    %s\n", a.Status)
	fmt.Printf("Command:   %s\n", strings.Join(append([]string{a.Command}, a.Args...), " "))
	fmt.Printf("Directory: %s\n", a.Dir)
	if a.Pid != 0 {
		fmt.Printf("Pid:       %d\n", a.Pid)
		fmt.Printf("Uptime:    %s\n", util.FormatDuration(time.Since(a.Started)))
	}
	fmt.Printf("Restarts:  %d", a.Attempts)
	if a.MaxRestarts != nil {
		fmt.Printf(" of %d", *a.MaxRestarts)
	}
	if !a.Autorestart {
		fmt.Printf(" (autorestart off)")
	}
	fmt.Printf("\n")
	fmt.Printf("Exits:     %d\n", a.Exits)
	if x := a.LastExit; x != nil {
		switch {
		case x.Error != "":
			fmt.Printf("Last exit: %s\n", x.Error)
		case x.Signaled:
			fmt.Printf("Last exit: signal %s after %v\n", x.Signal, x.Runtime)
		default:
			fmt.Printf("Last exit: code %d after %v\n", x.Code, x.Runtime)
		}
	}
	fmt.Printf("Out log:   %s\n", a.OutFile)
	if a.ErrFile != "" {
		fmt.Printf("Err log:   %s\n", a.ErrFile)
	}
}

func fail(e error) {
	if e != nil {
		log.Fatalf("Failed: %v", e)
	}
}

func main() {
	flag.StringVar(&addr, "a", addr, "appvisor address")
	flag.StringVar(&auth, "u", auth, "user:pass authentication")
	flag.Parse()

	client := rest.NewClient(nil, addr)
	if auth != "" {
		a := strings.SplitN(auth, ":", 2)
		if len(a) != 2 {
			log.Fatalf("Bad user:pass supplied")
		}
		client.SetAuth(a[0], a[1])
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	args := flag.Args()
	if len(args) == 0 {
		args = []string{"status"}
	}

	switch args[0] {
	case "apps":
		if len(args) != 1 {
			usage()
		}
		s, e := client.Apps(ctx)
		fail(e)
		sort.Strings(s)
		for _, name := range s {
			fmt.Println(name)
		}
	case "start":
		if len(args) != 2 {
			usage()
		}
		fail(client.StartApp(ctx, args[1]))
	case "stop":
		if len(args) != 2 {
			usage()
		}
		fail(client.StopApp(ctx, args[1]))
	case "restart":
		if len(args) != 2 {
			usage()
		}
		fail(client.RestartApp(ctx, args[1]))
	case "clear":
		if len(args) != 2 {
			usage()
		}
		fail(client.ClearApp(ctx, args[1]))

	case "log":
		name := ""
		switch len(args) {
		case 1:
		case 2:
			name = args[1]
		default:
			usage()
		}
		l, e := client.GetLog(ctx, name)
		fail(e)
		for _, r := range l.Records {
			fmt.Printf("%s %s\n", r.Time.Format(time.StampMilli), r.Text)
		}
	case "info":
		if len(args) != 2 {
			usage()
		}
		a, e := client.GetApp(ctx, args[1])
		fail(e)
		showInfo(a)
	case "watch":
		if len(args) != 2 {
			usage()
		}
		a, e := client.GetApp(ctx, args[1])
		fail(e)
		showStatus(a)
		for {
			n, e := client.WatchApp(ctx, args[1], a)
			if ctx.Err() != nil {
				return
			}
			fail(e)
			if n != a {
				showStatus(n)
			}
			a = n
		}
	case "status":
		names := args[1:]
		var e error
		if len(names) == 0 {
			names, e = client.Apps(ctx)
			fail(e)
		}
		if len(names) == 0 {
			// No applications?
			return
		}
		infos := []*rest.AppInfo{}
		for _, n := range names {
			info, e := client.GetApp(ctx, n)
			if e == nil {
				infos = append(infos, info)
			} else {
				log.Printf("Failed: %s: %v", n, e)
			}
		}
		util.SortApps(infos)
		for _, info := range infos {
			showStatus(info)
		}
	case "hash":
		if len(args) != 2 {
			usage()
		}
		h, e := bcrypt.GenerateFromPassword([]byte(args[1]), bcrypt.DefaultCost)
		fail(e)
		fmt.Println(string(h))
	default:
		usage()
	}
}
