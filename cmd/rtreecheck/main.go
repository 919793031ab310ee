// Command rtreecheck exercises the rtree engine end to end against the
// in-memory host, the way a quick smoke test for a database feature would:
// create a table, insert some cells, query them back, delete one, and log
// what happened at each step.
package main

import (
	"context"
	"log"

	"go.uber.org/zap"

	"rtreevtab/internal/rtree"
	"rtreevtab/vtab"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	host := vtab.NewMemoryHost()
	mod := vtab.New(rtree.CoordFloat32, true, false, 4096, logger)

	createArgs := []string{"rtree", "main", "parcels", "id", "minX", "maxX", "minY", "maxY"}
	table, err := mod.Create(ctx, host, createArgs)
	if err != nil {
		logger.Fatal("create table", zap.Error(err))
	}
	logger.Info("table created", zap.String("declaration", table.DeclarationSQL()))

	rows := []struct {
		rowid      int64
		minX, maxX float64
		minY, maxY float64
	}{
		{1, 0, 10, 0, 10},
		{2, 5, 15, 5, 15},
		{3, 20, 30, 20, 30},
		{4, 1, 2, 1, 2},
	}
	for _, r := range rows {
		newRowid := r.rowid
		if err := table.Update(ctx, nil, &newRowid, []rtree.WideCoord{r.minX, r.maxX, r.minY, r.maxY}, vtab.ConflictAbort); err != nil {
			logger.Fatal("insert row", zap.Int64("rowid", r.rowid), zap.Error(err))
		}
	}
	logger.Info("rows inserted", zap.Int("count", len(rows)))

	plan, err := table.BestIndex([]vtab.Constraint{
		{Column: 2, Op: rtree.OpLE, Usable: true}, // maxX <= v
		{Column: 3, Op: rtree.OpGE, Usable: true}, // minY >= v
	})
	if err != nil {
		logger.Fatal("best index", zap.Error(err))
	}
	logger.Info("query plan", zap.Int("strategy", plan.IdxNum), zap.Float64("cost", plan.Cost))

	cur, err := table.Open(ctx)
	if err != nil {
		logger.Fatal("open cursor", zap.Error(err))
	}
	if err := cur.Filter(ctx, plan.IdxNum, plan.IdxStr, []vtab.Value{
		{Kind: vtab.ValueFloat, Float: 20},
		{Kind: vtab.ValueFloat, Float: 0},
	}); err != nil {
		logger.Fatal("filter", zap.Error(err))
	}
	for !cur.EOF() {
		rowid, err := cur.Rowid()
		if err != nil {
			logger.Fatal("read rowid", zap.Error(err))
		}
		logger.Info("matched row", zap.Int64("rowid", rowid))
		if err := cur.Next(ctx); err != nil {
			logger.Fatal("advance cursor", zap.Error(err))
		}
	}
	if err := cur.Close(); err != nil {
		logger.Fatal("close cursor", zap.Error(err))
	}

	if err := table.Update(ctx, &rows[0].rowid, nil, nil, vtab.ConflictAbort); err != nil {
		logger.Fatal("delete row", zap.Error(err))
	}
	logger.Info("row deleted", zap.Int64("rowid", rows[0].rowid))

	stats := table.Index().Stats()
	logger.Info("engine stats",
		zap.Int64("splits", stats.Splits),
		zap.Int64("reinserts", stats.Reinserts),
		zap.Int64("condenses", stats.Condenses),
	)

	if err := table.Destroy(ctx); err != nil {
		logger.Fatal("destroy table", zap.Error(err))
	}
	logger.Info("table destroyed")
}
