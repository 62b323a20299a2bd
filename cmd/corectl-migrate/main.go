package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/cuemby/corectl/pkg/store"
)

var (
	endpoints = flag.String("endpoints", "127.0.0.1:2379", "comma-separated etcd endpoints")
	dryRun    = flag.Bool("dry-run", false, "show what would be migrated without making changes")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags)
	log.Println("corectl v1->v2 key migration")

	psc, err := store.NewEtcdStore(store.Config{
		Endpoints:   strings.Split(*endpoints, ","),
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		log.Fatalf("connect etcd: %v", err)
	}
	defer psc.Close()

	migrated, err := store.Migrate(context.Background(), psc, *dryRun)
	if err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	if *dryRun {
		log.Printf("dry run: %d keys would be migrated", migrated)
	} else {
		log.Printf("migrated %d keys", migrated)
	}
}
