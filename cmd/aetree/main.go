package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/jrhy/aetree"
	csvPersist "github.com/jrhy/aetree/persist/csv"
	filePersist "github.com/jrhy/aetree/persist/file"
	s3Persist "github.com/jrhy/aetree/persist/s3"
	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "aetree"
	app.Usage = "compare and repair replicas with range Merkle trees"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			EnvVars: []string{"AETREE_LOG_LEVEL"},
		},
	}
	app.Commands = []*cli.Command{
		diffCmd,
		repairCmd,
	}
	return app
}

var treeFlags = []cli.Flag{
	&cli.Int64Flag{
		Name:     "start",
		Usage:    "first token of the range",
		EnvVars:  []string{"AETREE_START"},
		Required: true,
	},
	&cli.Int64Flag{
		Name:     "end",
		Usage:    "last token of the range",
		EnvVars:  []string{"AETREE_END"},
		Required: true,
	},
	&cli.StringFlag{
		Name:     "left",
		Usage:    "source replica: a directory, a .csv file, or s3://bucket/prefix",
		Required: true,
	},
	&cli.StringFlag{
		Name:     "right",
		Usage:    "target replica: a directory, a .csv file, or s3://bucket/prefix",
		Required: true,
	},
	&cli.StringFlag{
		Name:    "hash",
		Value:   aetree.Blake2b256.Name(),
		EnvVars: []string{"AETREE_HASH"},
	},
	&cli.StringFlag{
		Name:    "keys",
		Usage:   "how row names map to tokens: int or murmur3",
		Value:   "int",
		EnvVars: []string{"AETREE_KEYS"},
	},
	&cli.IntFlag{
		Name:    "max-depth",
		Usage:   "cap tree depth; 0 means one leaf per token",
		EnvVars: []string{"AETREE_MAX_DEPTH"},
	},
	&cli.IntFlag{
		Name:    "concurrency",
		Value:   aetree.DefaultConcurrency,
		EnvVars: []string{"AETREE_CONCURRENCY"},
	},
	&cli.StringFlag{
		Name:    "s3-endpoint",
		EnvVars: []string{"AETREE_S3_ENDPOINT"},
	},
	&cli.BoolFlag{
		Name:  "dump",
		Usage: "print both trees",
	},
}

var diffCmd = &cli.Command{
	Name:  "diff",
	Usage: "print the ranges over which two replicas differ",
	Flags: treeFlags,
	Action: func(cctx *cli.Context) error {
		r, err := loadReplicas(cctx)
		if err != nil {
			return err
		}
		diffs, err := r.left.Difference(cctx.Context, r.right)
		if err != nil {
			return err
		}
		for _, d := range diffs {
			fmt.Println(d)
		}
		return nil
	},
}

var repairCmd = &cli.Command{
	Name:  "repair",
	Usage: "copy the rows of --left over --right wherever they differ",
	Flags: treeFlags,
	Action: func(cctx *cli.Context) error {
		r, err := loadReplicas(cctx)
		if err != nil {
			return err
		}
		ctx := cctx.Context
		diffs, err := r.left.Difference(ctx, r.right)
		if err != nil {
			return err
		}
		stats, err := aetree.Repair(ctx, diffs, r.leftStore, r.rightStore, r.keyOf, r.right)
		if err != nil {
			return err
		}
		after, err := r.left.Difference(ctx, r.right)
		if err != nil {
			return err
		}
		r.log.Info("repaired",
			zap.Int("ranges", len(diffs)),
			zap.Int("copied", stats.Copied),
			zap.Int("deleted", stats.Deleted),
			zap.Int("remaining", len(after)))
		return checkRepaired(after)
	},
}

func checkRepaired(remaining []aetree.Range) error {
	if len(remaining) == 0 {
		return nil
	}
	return fmt.Errorf("%d ranges still differ after repair, first %v", len(remaining), remaining[0])
}

type replicas struct {
	left, right           *aetree.MerkleTree
	leftStore, rightStore aetree.Persist
	keyOf                 aetree.KeyFunc
	log                   *zap.Logger
}

func loadReplicas(cctx *cli.Context) (*replicas, error) {
	log, err := newLogger(cctx.String("log-level"))
	if err != nil {
		return nil, err
	}
	rng, err := aetree.NewIntRange(cctx.Int64("start"), cctx.Int64("end"))
	if err != nil {
		return nil, err
	}
	hasher, ok := aetree.HasherByName(cctx.String("hash"))
	if !ok {
		return nil, fmt.Errorf("unknown hash %q", cctx.String("hash"))
	}
	r := &replicas{log: log}
	switch cctx.String("keys") {
	case "int":
		r.keyOf = aetree.ParseIntToken
	case "murmur3":
		r.keyOf = aetree.HashedKey
	default:
		return nil, fmt.Errorf("unknown key mapping %q", cctx.String("keys"))
	}
	config := &aetree.Config{
		Hasher:      hasher,
		MaxDepth:    cctx.Int("max-depth"),
		Concurrency: cctx.Int("concurrency"),
		Logger:      log,
	}
	r.leftStore, err = openPersist(cctx, cctx.String("left"))
	if err != nil {
		return nil, fmt.Errorf("left: %w", err)
	}
	r.rightStore, err = openPersist(cctx, cctx.String("right"))
	if err != nil {
		return nil, fmt.Errorf("right: %w", err)
	}
	r.left, err = buildTree(cctx.Context, rng, config, r.leftStore, r.keyOf)
	if err != nil {
		return nil, fmt.Errorf("left: %w", err)
	}
	r.right, err = buildTree(cctx.Context, rng, config, r.rightStore, r.keyOf)
	if err != nil {
		return nil, fmt.Errorf("right: %w", err)
	}
	if cctx.Bool("dump") {
		fmt.Printf("left:\n%sright:\n%s", r.left, r.right)
	}
	return r, nil
}

func buildTree(ctx context.Context, rng aetree.Range, config *aetree.Config, p aetree.Persist, keyOf aetree.KeyFunc) (*aetree.MerkleTree, error) {
	t, err := aetree.New(rng, config)
	if err != nil {
		return nil, err
	}
	if err := t.Build(ctx); err != nil {
		return nil, err
	}
	// rows outside the range belong to some other tree
	err = aetree.PersistRows(p, keyOf).Rows(ctx, func(row aetree.Row) error {
		if !rng.Contains(row.Key) {
			return nil
		}
		return t.Insert(row.Key, row.Value)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func openPersist(cctx *cli.Context, src string) (aetree.Persist, error) {
	switch {
	case strings.HasPrefix(src, "s3://"):
		bucket, prefix, _ := strings.Cut(strings.TrimPrefix(src, "s3://"), "/")
		if bucket == "" {
			return nil, fmt.Errorf("no bucket in %q", src)
		}
		config := aws.Config{}
		if endpoint := cctx.String("s3-endpoint"); endpoint != "" {
			config.Endpoint = aws.String(endpoint)
			config.S3ForcePathStyle = aws.Bool(true)
		}
		sess, err := session.NewSessionWithOptions(session.Options{
			Config:            config,
			SharedConfigState: session.SharedConfigEnable,
		})
		if err != nil {
			return nil, fmt.Errorf("aws session: %w", err)
		}
		return s3Persist.NewPersist(s3.New(sess), bucket, prefix), nil
	case strings.HasSuffix(src, ".csv"):
		return csvPersist.NewPersistForPath(src), nil
	default:
		fi, err := os.Stat(src)
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", src)
		}
		return filePersist.NewPersistForPath(src), nil
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	config := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	return config.Build()
}
