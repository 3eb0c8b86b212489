package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"lockstep-server/internal/engine"
	"lockstep-server/internal/infrastructure/storage"
	"lockstep-server/internal/sim"
	"lockstep-server/pkg/logger"
)

func main() {
	logger.Silence()

	if len(os.Args) < 2 {
		printHelp()
		return
	}

	switch os.Args[1] {
	case "dump":
		if len(os.Args) < 3 {
			fmt.Println("Usage: cmdlog dump <file.lscl>")
			return
		}
		dump(os.Args[2])
	case "replay":
		if len(os.Args) < 3 {
			fmt.Println("Usage: cmdlog replay <file.lscl> [frame]")
			return
		}
		var until uint64
		if len(os.Args) > 3 {
			var err error
			if until, err = strconv.ParseUint(os.Args[3], 10, 32); err != nil {
				fmt.Printf("Invalid frame: %v\n", err)
				return
			}
		}
		replay(os.Args[2], uint32(until))
	case "savegame":
		if len(os.Args) < 3 {
			fmt.Println("Usage: cmdlog savegame <file.sav.lz4>")
			return
		}
		savegame(os.Args[2])
	case "hash":
		if len(os.Args) < 3 {
			fmt.Println("Usage: cmdlog hash <password>")
			return
		}
		hash, err := engine.HashPassword(os.Args[2])
		if err != nil {
			fmt.Printf("Hash failed: %v\n", err)
			return
		}
		fmt.Println(hash)
	default:
		printHelp()
	}
}

func dump(path string) {
	session, err := (&storage.CommandLogService{}).Load(path)
	if err != nil {
		fmt.Printf("Invalid command log: %v\n", err)
		return
	}
	fmt.Printf("seed=%d started=%s entries=%d\n", session.Seed,
		time.Unix(session.Timestamp, 0).UTC().Format(time.RFC3339), len(session.Entries))
	for _, e := range session.Entries {
		fmt.Printf("frame=%d origin=%s %s\n", e.Frame, e.Origin, e.Command)
	}
}

func replay(path string, until uint32) {
	session, err := (&storage.CommandLogService{}).Load(path)
	if err != nil {
		fmt.Printf("Invalid command log: %v\n", err)
		return
	}
	world, err := sim.Replay(session, until)
	if err != nil {
		fmt.Printf("Replay failed: %v\n", err)
		return
	}
	fmt.Printf("frame=%d checksum=%08x seed=%08x\n", world.World().Frame, world.ComputeStateChecksum(), world.CurrentSeed())
	if err := world.DumpDiagnostics(os.Stdout); err != nil {
		fmt.Printf("Dump failed: %v\n", err)
	}
}

func savegame(path string) {
	data, err := (&storage.SavegameStore{}).Load(path)
	if err != nil {
		fmt.Printf("Invalid savegame: %v\n", err)
		return
	}
	world := sim.New(0, nil)
	if err := world.LoadState(data); err != nil {
		fmt.Printf("Invalid state: %v\n", err)
		return
	}
	fmt.Printf("frame=%d checksum=%08x seed=%08x\n", world.World().Frame, world.ComputeStateChecksum(), world.CurrentSeed())
	if err := world.DumpDiagnostics(os.Stdout); err != nil {
		fmt.Printf("Dump failed: %v\n", err)
	}
}

func printHelp() {
	fmt.Println(`Command Log Utility - разбор журналов команд и диагностических сохранений
Commands:
  dump <file.lscl>              - вывести все записи журнала
  replay <file.lscl> [frame]    - проиграть журнал и вывести контрольную сумму мира
  savegame <file.sav.lz4>       - загрузить сохранение рассинхронизации и вывести сводку
  hash <password>               - bcrypt-хеш для rcon_password_hash / admin_password_hash`)
}
