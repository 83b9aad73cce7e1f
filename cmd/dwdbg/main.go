// Hasher: Neural Inference Engine Powered by SHA-256 ASICs
// Copyright (C) 2026  Guillermo Perry
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"dwdbg/internal/adapter"
	"dwdbg/internal/config"
	"dwdbg/internal/session"
)

func main() {
	cfg, err := config.LoadSessionConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	timerEnable := flag.Bool("timer-enable", cfg.TimerEnable, "keep device timers running across go/trace")
	flag.Parse()

	a, err := adapter.Open()
	if err != nil {
		log.Fatalf("open adapter: %v", err)
	}
	defer a.Close()

	sess := session.New(a, *timerEnable)

	if err := sess.Connect(); err != nil {
		log.Fatalf("connect: %v", err)
	}
	dev, _ := sess.Device()
	fmt.Printf("connected: %s (signature 0x%04X), pc=0x%04X, baud=%d\n",
		dev.Name, dev.Signature, sess.PC(), a.BaudRate())

	repl(sess)
}

func repl(sess *session.Session) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("dwdbg> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			if err := dispatch(sess, line); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
		}
		fmt.Print("dwdbg> ")
	}
}

func dispatch(sess *session.Session, line string) error {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "reset":
		return sess.Reset()
	case "disable":
		return sess.Disable()
	case "trace":
		return sess.Trace()
	case "go":
		return sess.Go()
	case "pc":
		if len(args) == 0 {
			fmt.Printf("pc=0x%04X\n", sess.PC())
			return nil
		}
		v, err := strconv.ParseUint(args[0], 0, 16)
		if err != nil {
			return err
		}
		sess.SetPCValue(uint16(v))
		return nil
	case "bp":
		if len(args) == 0 {
			sess.ClearBP()
			return nil
		}
		v, err := strconv.ParseUint(args[0], 0, 16)
		if err != nil {
			return err
		}
		sess.SetBPValue(uint16(v))
		return nil
	case "stopped":
		stopped, err := sess.ReachedBreakpoint()
		if err != nil {
			return err
		}
		fmt.Printf("stopped=%v\n", stopped)
		return nil
	case "read":
		if len(args) != 2 {
			return fmt.Errorf("usage: read <addr> <len>")
		}
		addr, err := strconv.ParseUint(args[0], 0, 16)
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}
		data, err := sess.ReadAddr(uint16(addr), n)
		if err != nil {
			return err
		}
		fmt.Printf("% 02X\n", data)
		return nil
	case "write":
		if len(args) < 2 {
			return fmt.Errorf("usage: write <addr> <byte>...")
		}
		addr, err := strconv.ParseUint(args[0], 0, 16)
		if err != nil {
			return err
		}
		data := make([]byte, 0, len(args)-1)
		for _, s := range args[1:] {
			b, err := strconv.ParseUint(s, 0, 8)
			if err != nil {
				return err
			}
			data = append(data, byte(b))
		}
		return sess.WriteAddr(uint16(addr), data)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
