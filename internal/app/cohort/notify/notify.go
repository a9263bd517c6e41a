// Package notify sends the engine's at-most-once notifications.
//
// Every notice is keyed by (kind, subject). The key is claimed in the marker
// store before the message is composed or handed off, so a notice is sent at
// most once even when several cycles race to send it.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/dalemusser/cohortsync/internal/app/cohort/events"
	enrollmentstore "github.com/dalemusser/cohortsync/internal/app/store/enrollments"
	"github.com/dalemusser/cohortsync/internal/app/system/mailer"
	"github.com/dalemusser/cohortsync/internal/app/system/status"
	"github.com/dalemusser/cohortsync/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Kind names a notification type.
type Kind string

const (
	KindGroupPublished Kind = "group-published"
	KindMemberJoined   Kind = "member-joined"
	KindMemberEnrolled Kind = "member-enrolled"
	KindAccountSetup   Kind = "account-setup"
)

// Delivery modes.
const (
	ModeSync  = "sync"  // send inline through the mailer
	ModeQueue = "queue" // enqueue for the delivery worker
	ModeOff   = "off"   // claim markers, send nothing
)

// Markers is the once-only marker store.
type Markers interface {
	Claim(ctx context.Context, kind, subject string) (bool, error)
}

// Queue accepts notifications for deferred delivery.
type Queue interface {
	Enqueue(ctx context.Context, n models.Notification) (models.Notification, error)
}

// Users looks up member identities for display names.
type Users interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
}

// Courses resolves course titles.
type Courses interface {
	Titles(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]string, error)
}

// Config controls delivery and message links.
type Config struct {
	Mode        string
	SiteName    string
	BaseURL     string
	MaxAttempts int
}

// Notice is one notification request.
type Notice struct {
	Kind    Kind
	Subject string
	Compose func(ctx context.Context) (mailer.Email, error)
}

// Dispatcher claims markers and hands notices to the mailer or the queue.
type Dispatcher struct {
	markers Markers
	queue   Queue
	sender  mailer.Sender
	users   Users
	courses Courses
	cfg     Config
	log     *zap.Logger
}

// New creates a Dispatcher. queue may be nil in sync mode and sender may be
// nil in queue mode.
func New(markers Markers, queue Queue, sender mailer.Sender, users Users, courses Courses, cfg Config, log *zap.Logger) *Dispatcher {
	if cfg.Mode == "" {
		cfg.Mode = ModeSync
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Dispatcher{
		markers: markers,
		queue:   queue,
		sender:  sender,
		users:   users,
		courses: courses,
		cfg:     cfg,
		log:     log,
	}
}

// MaybeNotify claims the marker for n and, when this call won it, composes
// and hands off the message. It returns false when the notice was already
// sent. A hand-off failure after the claim is returned with true: the
// notice will not be retried.
func (d *Dispatcher) MaybeNotify(ctx context.Context, n Notice) (bool, error) {
	claimed, err := d.markers.Claim(ctx, string(n.Kind), n.Subject)
	if err != nil {
		return false, fmt.Errorf("claim %s marker: %w", n.Kind, err)
	}
	if !claimed {
		return false, nil
	}

	msg, err := n.Compose(ctx)
	if err != nil {
		return true, fmt.Errorf("compose %s: %w", n.Kind, err)
	}
	if msg.To == "" {
		d.log.Warn("notification has no recipient", zap.String("kind", string(n.Kind)), zap.String("subject", n.Subject))
		return true, nil
	}

	switch d.cfg.Mode {
	case ModeOff:
		return true, nil
	case ModeQueue:
		_, err = d.queue.Enqueue(ctx, models.Notification{
			Kind:        string(n.Kind),
			Subject:     n.Subject,
			To:          msg.To,
			MailSubject: msg.Subject,
			TextBody:    msg.TextBody,
			HTMLBody:    msg.HTMLBody,
			MaxAttempts: d.cfg.MaxAttempts,
		})
		if err != nil {
			return true, fmt.Errorf("enqueue %s: %w", n.Kind, err)
		}
	default:
		if err := d.sender.Send(ctx, msg); err != nil {
			return true, fmt.Errorf("send %s: %w", n.Kind, err)
		}
	}

	d.log.Info("notification dispatched",
		zap.String("kind", string(n.Kind)),
		zap.String("subject", n.Subject),
		zap.String("to", msg.To),
		zap.String("mode", d.cfg.Mode))
	return true, nil
}

// GroupPublished notifies the group's author that the group is live.
func (d *Dispatcher) GroupPublished(ctx context.Context, g models.Group) (bool, error) {
	return d.MaybeNotify(ctx, Notice{
		Kind:    KindGroupPublished,
		Subject: g.ID.Hex(),
		Compose: func(ctx context.Context) (mailer.Email, error) {
			ids := make([]primitive.ObjectID, 0, len(g.CourseData))
			for _, cd := range g.CourseData {
				ids = append(ids, cd.CourseID)
			}
			titles, err := d.courses.Titles(ctx, ids)
			if err != nil {
				return mailer.Email{}, err
			}
			var names []string
			seen := map[primitive.ObjectID]bool{}
			for _, id := range ids {
				if seen[id] {
					continue
				}
				seen[id] = true
				if t := titles[id]; t != "" {
					names = append(names, t)
				}
			}
			msg := mailer.BuildGroupPublishedEmail(mailer.GroupPublishedData{
				SiteName:     d.cfg.SiteName,
				AuthorName:   d.userName(ctx, g.AuthorID),
				GroupTitle:   g.Title,
				CourseTitles: names,
				GroupURL:     d.cfg.BaseURL + "/groups/" + g.ID.Hex(),
			})
			msg.To = g.AuthorEmail
			return msg, nil
		},
	})
}

// MemberJoined notifies member that they were added to g. Notices to the
// group's author are suppressed.
func (d *Dispatcher) MemberJoined(ctx context.Context, g models.Group, member models.User) (bool, error) {
	if isAuthor(g, member) {
		return false, nil
	}
	return d.MaybeNotify(ctx, Notice{
		Kind:    KindMemberJoined,
		Subject: g.ID.Hex() + ":" + member.ID.Hex(),
		Compose: func(ctx context.Context) (mailer.Email, error) {
			msg := mailer.BuildMemberJoinedEmail(mailer.MemberJoinedData{
				SiteName:         d.cfg.SiteName,
				MemberName:       member.FullName,
				GroupTitle:       g.Title,
				GroupDescription: g.Description,
				AuthorName:       d.userName(ctx, g.AuthorID),
				LoginURL:         d.cfg.BaseURL + "/login",
			})
			msg.To = member.Email
			return msg, nil
		},
	})
}

// MemberEnrolled notifies member of a course activated through g. It only
// fires when res moved the enrollment into active, and never for the
// group's author.
func (d *Dispatcher) MemberEnrolled(ctx context.Context, g models.Group, member models.User, res enrollmentstore.UpsertResult) (bool, error) {
	if !res.Activated() || res.Enrollment.Status != status.EnrollmentActive {
		return false, nil
	}
	if isAuthor(g, member) {
		return false, nil
	}
	e := res.Enrollment
	return d.MaybeNotify(ctx, Notice{
		Kind:    KindMemberEnrolled,
		Subject: e.ID.Hex(),
		Compose: func(ctx context.Context) (mailer.Email, error) {
			titles, err := d.courses.Titles(ctx, []primitive.ObjectID{e.CourseID})
			if err != nil {
				return mailer.Email{}, err
			}
			title := titles[e.CourseID]
			if title == "" {
				title = "your course"
			}
			msg := mailer.BuildMemberEnrolledEmail(mailer.MemberEnrolledData{
				SiteName:    d.cfg.SiteName,
				MemberName:  member.FullName,
				CourseTitle: title,
				GroupTitle:  g.Title,
				CourseURL:   d.cfg.BaseURL + "/courses/" + e.CourseID.Hex(),
			})
			msg.To = member.Email
			return msg, nil
		},
	})
}

// AccountSetup sends a newly created member the link to set a password.
// token is the one-time credential; only its hash is stored.
func (d *Dispatcher) AccountSetup(ctx context.Context, member models.User, token string) (bool, error) {
	return d.MaybeNotify(ctx, Notice{
		Kind:    KindAccountSetup,
		Subject: member.ID.Hex(),
		Compose: func(ctx context.Context) (mailer.Email, error) {
			msg := mailer.BuildAccountSetupEmail(mailer.AccountSetupData{
				SiteName:    d.cfg.SiteName,
				MemberEmail: member.Email,
				SetupURL:    d.cfg.BaseURL + "/account/setup?user=" + member.ID.Hex() + "&token=" + token,
			})
			msg.To = member.Email
			return msg, nil
		},
	})
}

// Register subscribes the group-published notice to the bus. A group
// published while trashed gets its notice when it is restored.
func (d *Dispatcher) Register(bus *events.Bus, groups GroupLoader) {
	h := func(ctx context.Context, ev events.Event) error {
		if ev.Kind == events.GroupStatusChanged && ev.NewStatus != status.GroupPublished {
			return nil
		}
		g, err := groups.GetByID(ctx, ev.GroupID)
		if err != nil {
			return err
		}
		if g.Status != status.GroupPublished || !g.IsLive() {
			return nil
		}
		_, err = d.GroupPublished(ctx, g)
		return err
	}
	bus.Subscribe(events.GroupCreated, "notify.group-published", h)
	bus.Subscribe(events.GroupStatusChanged, "notify.group-published", h)
	bus.Subscribe(events.GroupRestored, "notify.group-published", h)
}

// GroupLoader loads a group by id.
type GroupLoader interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (models.Group, error)
}

func (d *Dispatcher) userName(ctx context.Context, id primitive.ObjectID) string {
	if id.IsZero() || d.users == nil {
		return ""
	}
	u, err := d.users.GetByID(ctx, id)
	if err != nil {
		return ""
	}
	return u.FullName
}

func isAuthor(g models.Group, member models.User) bool {
	if !g.AuthorID.IsZero() && g.AuthorID == member.ID {
		return true
	}
	return g.AuthorEmail != "" && g.AuthorEmail == member.Email
}
