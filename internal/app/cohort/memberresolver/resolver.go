// Package memberresolver turns an email address into a member identity,
// creating one when needed, and records group membership.
package memberresolver

import (
	"context"
	"errors"
	"fmt"

	userstore "github.com/dalemusser/cohortsync/internal/app/store/users"
	"github.com/dalemusser/cohortsync/internal/app/system/inputval"
	"github.com/dalemusser/cohortsync/internal/app/system/normalize"
	"github.com/dalemusser/cohortsync/internal/domain/models"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidEmail is returned for input that is not a usable email address.
// Callers skip the member and continue.
var ErrInvalidEmail = errors.New("invalid email address")

// HashCost is the bcrypt cost for one-time credentials.
var HashCost = 12

// Users is the member identity store.
type Users interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, u models.User) (models.User, error)
	GrantRoleIfNone(ctx context.Context, id primitive.ObjectID, role string) (bool, error)
	AddGroup(ctx context.Context, id, groupID primitive.ObjectID) (bool, error)
}

// Notifier sends the resolver's notices.
type Notifier interface {
	AccountSetup(ctx context.Context, member models.User, token string) (bool, error)
	MemberJoined(ctx context.Context, g models.Group, member models.User) (bool, error)
}

// Result describes a resolved member.
type Result struct {
	User        models.User
	Created     bool // the identity was created by this call
	RoleGranted bool // the baseline role was written by this call
	Joined      bool // the group was added to the member's set by this call
}

// Resolver resolves and creates members.
type Resolver struct {
	users    Users
	notifier Notifier
	log      *zap.Logger
}

func New(users Users, notifier Notifier, log *zap.Logger) *Resolver {
	return &Resolver{users: users, notifier: notifier, log: log}
}

// ResolveOrCreate returns the member for email, creating it with a one-time
// credential when absent. A member without a role is granted the learner
// role; an existing role is never changed.
func (r *Resolver) ResolveOrCreate(ctx context.Context, email string) (Result, error) {
	email = normalize.Email(email)
	if !inputval.IsValidEmail(email) {
		return Result{}, ErrInvalidEmail
	}

	var res Result
	u, err := r.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		res.User = *u
	case errors.Is(err, mongo.ErrNoDocuments):
		res, err = r.create(ctx, email)
		if err != nil {
			return Result{}, err
		}
	default:
		return Result{}, fmt.Errorf("lookup member %s: %w", email, err)
	}

	if res.User.Role == "" {
		granted, err := r.users.GrantRoleIfNone(ctx, res.User.ID, userstore.RoleLearner)
		if err != nil {
			return Result{}, fmt.Errorf("grant role to %s: %w", email, err)
		}
		res.RoleGranted = granted
		res.User.Role = userstore.RoleLearner
	}
	return res, nil
}

func (r *Resolver) create(ctx context.Context, email string) (Result, error) {
	token := uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), HashCost)
	if err != nil {
		return Result{}, fmt.Errorf("hash credential: %w", err)
	}

	u, err := r.users.Create(ctx, models.User{
		Email:              email,
		PasswordHash:       string(hash),
		PasswordTemp:       true,
		NeedsPasswordSetup: true,
	})
	if errors.Is(err, userstore.ErrDuplicateEmail) {
		// Another cycle created it first.
		existing, gerr := r.users.GetByEmail(ctx, email)
		if gerr != nil {
			return Result{}, fmt.Errorf("reload member %s: %w", email, gerr)
		}
		return Result{User: *existing}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("create member %s: %w", email, err)
	}

	r.log.Info("member created", zap.String("user_id", u.ID.Hex()), zap.String("email", email))
	if _, nerr := r.notifier.AccountSetup(ctx, u, token); nerr != nil {
		r.log.Warn("account setup notice failed", zap.String("user_id", u.ID.Hex()), zap.Error(nerr))
	}
	return Result{User: u, Created: true}, nil
}

// JoinGroup resolves email and adds g to the member's group set. The
// member-joined notice is requested on every call; the dispatcher drops
// repeats and notices to the group's author.
func (r *Resolver) JoinGroup(ctx context.Context, email string, g models.Group) (Result, error) {
	res, err := r.ResolveOrCreate(ctx, email)
	if err != nil {
		return Result{}, err
	}

	added, err := r.users.AddGroup(ctx, res.User.ID, g.ID)
	if err != nil {
		return Result{}, fmt.Errorf("add group to %s: %w", res.User.Email, err)
	}
	res.Joined = added
	if added {
		res.User.GroupIDs = append(res.User.GroupIDs, g.ID)
	}

	if _, nerr := r.notifier.MemberJoined(ctx, g, res.User); nerr != nil {
		r.log.Warn("member joined notice failed",
			zap.String("user_id", res.User.ID.Hex()),
			zap.String("group_id", g.ID.Hex()),
			zap.Error(nerr))
	}
	return res, nil
}

// Lookup returns the existing member for email without creating one.
// Returns mongo.ErrNoDocuments when there is none.
func (r *Resolver) Lookup(ctx context.Context, email string) (models.User, error) {
	email = normalize.Email(email)
	if !inputval.IsValidEmail(email) {
		return models.User{}, ErrInvalidEmail
	}
	u, err := r.users.GetByEmail(ctx, email)
	if err != nil {
		return models.User{}, err
	}
	return *u, nil
}
