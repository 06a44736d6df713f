package friends

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pairchat/internal/conversation"
	"github.com/vovakirdan/pairchat/internal/core"
	"github.com/vovakirdan/pairchat/internal/store"
)

// Common errors for friend operations.
var (
	ErrCannotFriendSelf = errors.New("you can't add yourself")
	ErrAlreadyFriends   = errors.New("already friends")
	ErrNotFriends       = errors.New("not friends")
	ErrUserNotFound     = errors.New("no user found with that name")
)

// Store is the persistence the friends service needs.
type Store interface {
	GetUserByID(ctx context.Context, id int64) (*store.User, error)
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
	GetProfile(ctx context.Context, userID int64) (*store.Profile, error)
	store.FriendStore
}

// Service provides friend management business logic.
type Service struct {
	store Store
	pub   core.Publisher
	log   *zerolog.Logger
}

// New creates a new friends service. pub may be nil when no live updates are needed.
func New(st Store, pub core.Publisher, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{store: st, pub: pub, log: logger}
}

// AddByUsername befriends the user with the exact given username.
// The friendship is symmetric and takes effect immediately.
func (s *Service) AddByUsername(ctx context.Context, userID int64, username string) (*core.Friend, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrUserNotFound
	}

	target, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if target.ID == userID {
		return nil, ErrCannotFriendSelf
	}

	if err := s.store.AddFriendship(ctx, userID, target.ID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrAlreadyFriends
		}
		return nil, fmt.Errorf("add friendship: %w", err)
	}

	added, err := s.entry(ctx, target)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, userID, &core.Event{Kind: core.EventFriendAdded, Friend: added})

	if me, err := s.store.GetUserByID(ctx, userID); err == nil {
		if self, err := s.entry(ctx, me); err == nil {
			s.publish(ctx, target.ID, &core.Event{Kind: core.EventFriendAdded, Friend: self})
		}
	}

	s.log.Info().Int64("user_id", userID).Int64("friend_id", target.ID).Msg("friendship added")
	return added, nil
}

// Remove ends the friendship between userID and friendID on both sides.
func (s *Service) Remove(ctx context.Context, userID, friendID int64) error {
	if err := s.store.RemoveFriendship(ctx, userID, friendID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFriends
		}
		return fmt.Errorf("remove friendship: %w", err)
	}

	s.publish(ctx, userID, &core.Event{Kind: core.EventFriendRemoved, Friend: &core.Friend{UserID: friendID}})
	s.publish(ctx, friendID, &core.Event{Kind: core.EventFriendRemoved, Friend: &core.Friend{UserID: userID}})

	s.revokeConversation(ctx, userID, friendID)

	s.log.Info().Int64("user_id", userID).Int64("friend_id", friendID).Msg("friendship removed")
	return nil
}

// List returns the friends of userID ordered by username.
func (s *Service) List(ctx context.Context, userID int64) ([]core.Friend, error) {
	rows, err := s.store.ListFriends(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	out := make([]core.Friend, 0, len(rows))
	for _, f := range rows {
		out = append(out, core.Friend{
			UserID:      f.FriendID,
			Username:    f.FriendUsername,
			DisplayName: f.FriendDisplayName,
			PhotoData:   f.FriendPhotoData,
		})
	}
	return out, nil
}

// FriendIDs returns the IDs of userID's friends.
func (s *Service) FriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	return s.store.ListFriendIDs(ctx, userID)
}

// IsFriend checks if two users are friends.
func (s *Service) IsFriend(ctx context.Context, userID, friendID int64) (bool, error) {
	return s.store.IsFriend(ctx, userID, friendID)
}

func (s *Service) entry(ctx context.Context, u *store.User) (*core.Friend, error) {
	f := &core.Friend{UserID: u.ID, Username: u.Username, DisplayName: u.Username}
	p, err := s.store.GetProfile(ctx, u.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return f, nil
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if p.DisplayName != "" {
		f.DisplayName = p.DisplayName
	}
	f.PhotoData = p.PhotoData
	return f, nil
}

// revokeConversation detaches both users from the conversation they no longer share.
func (s *Service) revokeConversation(ctx context.Context, userID, friendID int64) {
	if s.pub == nil {
		return
	}
	topic := conversation.ConversationTopic(conversation.Key(userID, friendID))
	ev := &core.Event{Kind: core.EventAccessRevoked, UserIDs: []int64{userID, friendID}}
	if err := s.pub.Publish(ctx, topic, ev); err != nil {
		s.log.Warn().Err(err).Str("topic", topic).Msg("publish access revocation")
	}
}

func (s *Service) publish(ctx context.Context, userID int64, ev *core.Event) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, conversation.FriendsTopic(userID), ev); err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Str("event", ev.Kind.String()).Msg("publish friends event")
	}
}
