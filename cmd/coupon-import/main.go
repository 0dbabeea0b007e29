// Command coupon-import loads promotion codes published as gzip-compressed
// lists, one code per line. A code is imported when it appears in at least
// -min-lists of the lists; the lists are scanned concurrently and a bloom
// filter per list keeps the exact candidate set small.
package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	progressEvery = 10_000_000
	minCodeLen    = 6
	maxCodeLen    = 16
	// maxLists bounds the per-code list bitmask.
	maxLists = bits.UintSize
)

type options struct {
	dataDir     string
	pattern     string
	databaseURL string
	minLists    int
	expected    uint
	batchSize   int
	dryRun      bool

	percent     float64
	maxDiscount float64
	minSubtotal float64
	maxUses     int
}

func main() {
	var o options
	flag.StringVar(&o.dataDir, "data-dir", "data", "directory containing the code lists")
	flag.StringVar(&o.pattern, "pattern", "*.gz", "glob of code list files inside data-dir")
	flag.StringVar(&o.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&o.minLists, "min-lists", 2, "lists a code must appear in to be imported")
	flag.UintVar(&o.expected, "expected-codes", 10_000_000, "expected codes per list, sizes the bloom filters")
	flag.IntVar(&o.batchSize, "batch", 500, "coupons per database batch")
	flag.BoolVar(&o.dryRun, "dry-run", false, "scan and report without writing")
	flag.Float64Var(&o.percent, "percent", 10, "percentage discount of imported codes")
	flag.Float64Var(&o.maxDiscount, "max-discount", 200, "discount cap of imported codes, 0 for none")
	flag.Float64Var(&o.minSubtotal, "min-subtotal", 0, "minimum subtotal of imported codes")
	flag.IntVar(&o.maxUses, "max-uses", 1, "uses per imported code, 0 for unlimited")
	flag.Parse()

	lg := zap.Must(zap.NewProduction())
	defer func() { _ = lg.Sync() }()

	if o.databaseURL == "" {
		o.databaseURL = os.Getenv("DATABASE_URL")
	}
	if o.databaseURL == "" && !o.dryRun {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, o); err != nil {
		lg.Fatal("Coupon import failed", zap.Error(err))
	}
	lg.Info("Coupon import completed")
}

func run(ctx context.Context, lg *zap.Logger, o options) error {
	files, err := filepath.Glob(filepath.Join(o.dataDir, o.pattern))
	if err != nil {
		return errors.Wrap(err, "match code lists")
	}
	slices.Sort(files)
	switch {
	case len(files) == 0:
		return errors.Errorf("no code lists match %s", filepath.Join(o.dataDir, o.pattern))
	case len(files) > maxLists:
		return errors.Errorf("%d code lists, at most %d supported", len(files), maxLists)
	case o.minLists < 1 || o.minLists > len(files):
		return errors.Errorf("min-lists must be between 1 and %d", len(files))
	case o.batchSize < 1:
		return errors.New("batch must be positive")
	}

	open := func(i int) (io.ReadCloser, error) { return openGz(files[i]) }
	lg.Info("Scanning code lists", zap.Strings("files", files), zap.Int("min_lists", o.minLists))

	codes, err := selectCodes(ctx, lg, len(files), open, o.minLists, o.expected)
	if err != nil {
		return err
	}
	lg.Info("Codes selected", zap.Int("count", len(codes)))
	if len(codes) == 0 || o.dryRun {
		return nil
	}

	pool, err := postgres.NewPool(ctx, o.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewCouponRepository(pool)
	rules := importRules(codes, o)
	for start := 0; start < len(rules); start += o.batchSize {
		batch := rules[start:min(start+o.batchSize, len(rules))]
		if err := repo.UpsertBatch(ctx, batch); err != nil {
			return errors.Wrapf(err, "upsert batch at %d", start)
		}
		lg.Info("Write progress", zap.Int("written", start+len(batch)), zap.Int("total", len(rules)))
	}
	return nil
}

// importRules gives every code the rule configured by flags.
func importRules(codes []string, o options) []coupon.Rule {
	rules := make([]coupon.Rule, len(codes))
	for i, code := range codes {
		rules[i] = coupon.Rule{
			Code:         code,
			DiscountType: coupon.DiscountPercentage,
			Value:        decimal.NewFromFloat(o.percent),
			MinSubtotal:  decimal.NewFromFloat(o.minSubtotal),
			MaxDiscount:  decimal.NewFromFloat(o.maxDiscount),
			Description:  "Promo code: " + decimal.NewFromFloat(o.percent).String() + "% off",
			MaxUses:      o.maxUses,
		}
	}
	return rules
}

type opener func(i int) (io.ReadCloser, error)

// selectCodes returns the sorted codes present in at least minLists of the
// n lists.
func selectCodes(ctx context.Context, lg *zap.Logger, n int, open opener, minLists int, expected uint) ([]string, error) {
	var filters []*bloom.BloomFilter
	if minLists > 1 {
		var err error
		if filters, err = buildFilters(ctx, lg, n, open, expected); err != nil {
			return nil, errors.Wrap(err, "build bloom filters")
		}
	}

	masks := make([]map[string]uint, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			found := make(map[string]uint)
			bit := uint(1) << uint(i)
			var count uint64
			err := scanList(gctx, open, i, func(code string) {
				count++
				if count%progressEvery == 0 {
					lg.Info("Candidate pass progress", zap.Int("list", i), zap.Uint64("codes", count))
				}
				if filters == nil || inOther(filters, i, code) {
					found[code] |= bit
				}
			})
			if err != nil {
				return errors.Wrapf(err, "scan list %d", i)
			}
			masks[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, m := range masks {
		for code, mask := range m {
			merged[code] |= mask
		}
	}
	var out []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= minLists {
			out = append(out, code)
		}
	}
	slices.Sort(out)
	return out, nil
}

func inOther(filters []*bloom.BloomFilter, self int, code string) bool {
	for j, f := range filters {
		if j != self && f.TestString(code) {
			return true
		}
	}
	return false
}

func buildFilters(ctx context.Context, lg *zap.Logger, n int, open opener, expected uint) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			f := bloom.NewWithEstimates(expected, bloomFPR)
			var count uint64
			if err := scanList(gctx, open, i, func(code string) {
				f.AddString(code)
				count++
			}); err != nil {
				return errors.Wrapf(err, "index list %d", i)
			}
			lg.Info("List indexed", zap.Int("list", i), zap.Uint64("codes", count))
			filters[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

func scanList(ctx context.Context, open opener, i int, fn func(code string)) error {
	r, err := open(i)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	return streamCodes(ctx, r, fn)
}

// streamCodes calls fn with every normalized line of r that has a valid code
// length.
func streamCodes(ctx context.Context, r io.Reader, fn func(code string)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		code := coupon.Normalize(scanner.Text())
		if len(code) < minCodeLen || len(code) > maxCodeLen {
			continue
		}
		fn(code)
	}
	return scanner.Err()
}

type gzFile struct {
	*pgzip.Reader
	f *os.File
}

func (g gzFile) Close() error {
	err := g.Reader.Close()
	if cerr := g.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func openGz(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	gz, err := pgzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	return gzFile{Reader: gz, f: f}, nil
}
