// Package profile manages user profiles and keeps a hot cache of them.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pairchat/internal/conversation"
	"github.com/vovakirdan/pairchat/internal/core"
	"github.com/vovakirdan/pairchat/internal/imaging"
	"github.com/vovakirdan/pairchat/internal/metrics"
	"github.com/vovakirdan/pairchat/internal/store"
)

const (
	maxDisplayNameLen = 64
	maxBioLen         = 500

	// cacheTTL bounds how long a cached profile can outlive a missed invalidation.
	cacheTTL = 5 * time.Minute

	// AnonymousName is used when a user has no profile.
	AnonymousName = "Anonymous"
)

var (
	ErrProfileNotFound    = errors.New("profile not found")
	ErrInvalidDisplayName = errors.New("display name must be 1 to 64 characters")
	ErrBioTooLong         = errors.New("bio must be at most 500 characters")
	ErrPhotoTooLarge      = errors.New("photo is too large")
)

// Store is the persistence the profile service needs.
type Store interface {
	GetUserByID(ctx context.Context, id int64) (*store.User, error)
	ListFriendIDs(ctx context.Context, userID int64) ([]int64, error)
	store.ProfileStore
}

// Options tunes the service.
type Options struct {
	CacheSize      int64 // max cached profiles
	MaxUploadBytes int64
	Imaging        imaging.Options
}

// DefaultOptions returns options matching the default configuration.
func DefaultOptions() Options {
	return Options{CacheSize: 10000, MaxUploadBytes: 5 << 20, Imaging: imaging.DefaultOptions}
}

// UpdateInput lists the fields to change. Nil pointers and an empty Photo leave a field as is.
type UpdateInput struct {
	DisplayName *string
	Bio         *string
	Photo       []byte
	ClearPhoto  bool
}

// Service reads and edits profiles.
type Service struct {
	store Store
	pub   core.Publisher
	cache *ristretto.Cache[int64, *store.Profile]
	opts  Options
	log   *zerolog.Logger

	// gen is bumped on every write; a read only fills the cache if no write
	// happened since it started.
	mu  sync.Mutex
	gen uint64
}

// New creates a profile service. pub may be nil.
func New(st Store, pub core.Publisher, opts Options, logger *zerolog.Logger) (*Service, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultOptions().CacheSize
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultOptions().MaxUploadBytes
	}
	if opts.Imaging.MaxDimension <= 0 || opts.Imaging.Quality <= 0 {
		opts.Imaging = imaging.DefaultOptions
	}

	cache, err := ristretto.NewCache(&ristretto.Config[int64, *store.Profile]{
		NumCounters: opts.CacheSize * 10,
		MaxCost:     opts.CacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create profile cache: %w", err)
	}

	return &Service{store: st, pub: pub, cache: cache, opts: opts, log: logger}, nil
}

// Close releases the cache.
func (s *Service) Close() {
	s.cache.Close()
}

// Get returns the profile of userID.
func (s *Service) Get(ctx context.Context, userID int64) (*store.Profile, error) {
	if p, ok := s.cache.Get(userID); ok {
		metrics.ProfileCacheHits.Inc()
		cp := *p
		return &cp, nil
	}
	metrics.ProfileCacheMisses.Inc()

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}

	s.mu.Lock()
	if s.gen == gen {
		s.cache.SetWithTTL(userID, p, 1, cacheTTL)
	}
	s.mu.Unlock()

	cp := *p
	return &cp, nil
}

// DisplayName returns the user's display name, or AnonymousName when it is unknown.
func (s *Service) DisplayName(ctx context.Context, userID int64) string {
	p, err := s.Get(ctx, userID)
	if err != nil || strings.TrimSpace(p.DisplayName) == "" {
		if err != nil && !errors.Is(err, ErrProfileNotFound) {
			s.log.Warn().Err(err).Int64("user_id", userID).Msg("display name lookup failed")
		}
		return AnonymousName
	}
	return p.DisplayName
}

// Update applies in to the profile of userID and notifies the user's friends.
func (s *Service) Update(ctx context.Context, userID int64, in UpdateInput) (*store.Profile, error) {
	current, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}

	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		if n := utf8.RuneCountInString(name); n == 0 || n > maxDisplayNameLen {
			return nil, ErrInvalidDisplayName
		}
		current.DisplayName = name
	}
	if in.Bio != nil {
		bio := strings.TrimSpace(*in.Bio)
		if utf8.RuneCountInString(bio) > maxBioLen {
			return nil, ErrBioTooLong
		}
		current.Bio = bio
	}
	switch {
	case len(in.Photo) > 0:
		if int64(len(in.Photo)) > s.opts.MaxUploadBytes {
			return nil, ErrPhotoTooLarge
		}
		photo, err := imaging.ThumbnailDataURL(in.Photo, s.opts.Imaging)
		if err != nil {
			return nil, err
		}
		current.PhotoData = photo
	case in.ClearPhoto:
		current.PhotoData = ""
	}

	if err := s.store.UpdateProfile(ctx, current); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	s.invalidate(userID)

	s.notifyFriends(ctx, current)
	s.log.Info().Int64("user_id", userID).Msg("profile updated")
	return current, nil
}

func (s *Service) invalidate(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.cache.Del(userID)
}

func (s *Service) notifyFriends(ctx context.Context, p *store.Profile) {
	if s.pub == nil {
		return
	}
	ids, err := s.store.ListFriendIDs(ctx, p.UserID)
	if err != nil {
		s.log.Warn().Err(err).Int64("user_id", p.UserID).Msg("list friends for profile update")
		return
	}
	if len(ids) == 0 {
		return
	}

	entry := core.Friend{UserID: p.UserID, DisplayName: p.DisplayName, PhotoData: p.PhotoData}
	if u, err := s.store.GetUserByID(ctx, p.UserID); err == nil {
		entry.Username = u.Username
	}
	for _, id := range ids {
		friend := entry
		ev := &core.Event{Kind: core.EventProfileUpdated, Friend: &friend}
		if err := s.pub.Publish(ctx, conversation.FriendsTopic(id), ev); err != nil {
			s.log.Warn().Err(err).Int64("friend_id", id).Msg("publish profile update")
		}
	}
}
