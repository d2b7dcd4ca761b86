//go:build integration

package cache

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func ptr[T any](v T) *T { return &v }

type RedisCacheIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *tcredis.RedisContainer
	rdb       *goredis.Client
	cache     *Cache
}

func (s *RedisCacheIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := tcredis.Run(s.ctx, "redis:7-alpine")
	s.Require().NoError(err)
	s.container = container

	url, err := container.ConnectionString(s.ctx)
	s.Require().NoError(err)

	rdb, err := NewClient(s.ctx, url)
	s.Require().NoError(err)
	s.rdb = rdb

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.cache = New(rdb, TTLs{
		Price:  time.Minute,
		Meta:   time.Minute,
		Domain: time.Minute,
	}, logger)
}

func (s *RedisCacheIntegrationSuite) TearDownSuite() {
	if s.rdb != nil {
		s.rdb.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *RedisCacheIntegrationSuite) SetupTest() {
	s.Require().NoError(s.rdb.FlushAll(s.ctx).Err())
}

func TestRedisCacheIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RedisCacheIntegrationSuite))
}

func (s *RedisCacheIntegrationSuite) TestPriceSnapshot_RoundTrip() {
	checkedAt := time.Now().UTC().Truncate(time.Millisecond)
	s.cache.SetPrice(s.ctx, 42, PriceSnapshot{
		Price:     ptr(29.99),
		Currency:  "USD",
		CheckedAt: checkedAt,
	})

	snap, ok := s.cache.GetPrice(s.ctx, 42)
	s.True(ok)
	s.NotNil(snap.Price)
	s.Equal(29.99, *snap.Price)
	s.Equal("USD", snap.Currency)
	s.Equal(checkedAt, snap.CheckedAt)
}

func (s *RedisCacheIntegrationSuite) TestPriceSnapshot_NilPriceIsCacheable() {
	s.cache.SetPrice(s.ctx, 43, PriceSnapshot{
		Price:     nil,
		Currency:  "USD",
		CheckedAt: time.Now(),
	})

	snap, ok := s.cache.GetPrice(s.ctx, 43)
	s.True(ok, "a known-unavailable price is a valid cached state")
	s.Nil(snap.Price)
}

func (s *RedisCacheIntegrationSuite) TestMetaSnapshot_RoundTrip() {
	s.cache.SetMeta(s.ctx, 44, MetaSnapshot{
		Title:    ptr("Widget Deluxe"),
		ImageURL: ptr("https://cdn.example.com/widget.jpg"),
		URL:      "https://shop.example.com/p/44",
	})

	snap, ok := s.cache.GetMeta(s.ctx, 44)
	s.True(ok)
	s.Equal("Widget Deluxe", *snap.Title)
	s.Equal("https://cdn.example.com/widget.jpg", *snap.ImageURL)
	s.Equal("https://shop.example.com/p/44", snap.URL)
}

func (s *RedisCacheIntegrationSuite) TestGet_MissOnAbsentKey() {
	_, ok := s.cache.GetPrice(s.ctx, 999)
	s.False(ok)

	_, ok = s.cache.GetMeta(s.ctx, 999)
	s.False(ok)
}

func (s *RedisCacheIntegrationSuite) TestDomainStamps() {
	_, ok := s.cache.LastScraped(s.ctx, "shop.example.com")
	s.False(ok, "unseen domain reports never-scraped")

	at := time.Now().UTC().Truncate(time.Millisecond)
	s.cache.TouchDomain(s.ctx, "shop.example.com", at)

	got, ok := s.cache.LastScraped(s.ctx, "shop.example.com")
	s.True(ok)
	s.Equal(at, got)

	// Stamps are per-domain.
	_, ok = s.cache.LastScraped(s.ctx, "other.example.com")
	s.False(ok)
}

func (s *RedisCacheIntegrationSuite) TestSet_OverwritesPreviousSnapshot() {
	s.cache.SetPrice(s.ctx, 45, PriceSnapshot{Price: ptr(50.0), Currency: "USD", CheckedAt: time.Now()})
	s.cache.SetPrice(s.ctx, 45, PriceSnapshot{Price: ptr(45.0), Currency: "USD", CheckedAt: time.Now()})

	snap, ok := s.cache.GetPrice(s.ctx, 45)
	s.True(ok)
	s.Equal(45.0, *snap.Price)
}

func (s *RedisCacheIntegrationSuite) TestBackendOutage_DegradesToMiss() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	deadClient := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	defer deadClient.Close()

	dead := New(deadClient, TTLs{Price: time.Minute, Meta: time.Minute, Domain: time.Minute}, logger)

	// No panics, no errors: sets are dropped, gets are misses.
	dead.SetPrice(s.ctx, 1, PriceSnapshot{Price: ptr(1.0), Currency: "USD", CheckedAt: time.Now()})
	_, ok := dead.GetPrice(s.ctx, 1)
	s.False(ok)

	dead.TouchDomain(s.ctx, "shop.example.com", time.Now())
	_, ok = dead.LastScraped(s.ctx, "shop.example.com")
	s.False(ok)
}
