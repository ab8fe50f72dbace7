// Command submit enqueues one task and waits for its result, for smoke
// testing a deployment from the shell.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/docpipe/docpipe/internal/config"
	"github.com/docpipe/docpipe/internal/dispatch"
	"github.com/docpipe/docpipe/internal/poller"
	"github.com/docpipe/docpipe/internal/queue"
	"github.com/docpipe/docpipe/internal/task"
)

func main() {
	var (
		contentPath = flag.String("file", "", "path to the document text to process")
		docRef      = flag.String("doc", "", "document name to record on the task (defaults to -file)")
		model       = flag.String("model", "GPT-4o", "model identifier")
		question    = flag.String("question", "", "ask this question instead of summarizing")
		interval    = flag.Duration("interval", 2*time.Second, "poll interval")
		deadline    = flag.Duration("deadline", 10*time.Minute, "give up after this long")
	)
	flag.Parse()
	if *contentPath == "" {
		log.Fatal("-file is required")
	}
	if *docRef == "" {
		*docRef = *contentPath
	}

	content, err := os.ReadFile(*contentPath)
	if err != nil {
		log.Fatalf("read %s: %v", *contentPath, err)
	}

	ctx := context.Background()
	cfg := config.FromEnv()
	rdb, err := queue.Connect(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer rdb.Close()
	q := queue.New(rdb, cfg.ResultTTL)
	if err := q.Init(ctx); err != nil {
		log.Fatal(err)
	}

	kind := task.KindSummarize
	if *question != "" {
		kind = task.KindQA
	}
	taskID, err := dispatch.New(q, nil).Submit(ctx, kind, *docRef, *model, string(content), *question)
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	log.Printf("submitted %s, polling every %v", taskID, *interval)

	result, err := poller.New(q).Await(ctx, taskID, *interval, *deadline)
	if err != nil {
		log.Fatalf("await %s: %v", taskID, err)
	}
	if task.IsError(result) {
		log.Fatalf("task %s failed: %s", taskID, result)
	}
	fmt.Println(result)
}
