package class

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/learnhub/core/internal/models"
	"github.com/learnhub/core/internal/pkg/cache"
	"github.com/learnhub/core/internal/pkg/cron"
	"github.com/learnhub/core/internal/pkg/events"
	"github.com/learnhub/core/internal/pkg/pagination"
	"github.com/learnhub/core/internal/pkg/redis"
	"github.com/learnhub/core/internal/pkg/response"
)

const (
	listNamespace        = "classes:list"
	userClassesNamespace = "user:classes"
	reminderMarkPrefix   = "lock:class:reminder:"

	ReminderJobName = "class_reminder"
	// DefaultReminderLead is how far ahead of a class reminders go out.
	DefaultReminderLead = time.Hour

	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

var (
	errClassNotFound = response.NewError(http.StatusNotFound, "Class not found")
	errBatchNotFound = response.NewError(http.StatusNotFound, "Batch not found")
	errInvalidTime   = response.NewError(http.StatusBadRequest, "End time must be after start time")
)

type CreateDTO struct {
	BatchID     string `json:"batch_id"     binding:"required,uuid"`
	Title       string `json:"title"        binding:"required,min=3"`
	Date        string `json:"date"         binding:"required,datetime=2006-01-02"`
	StartTime   string `json:"start_time"   binding:"required,datetime=15:04"`
	EndTime     string `json:"end_time"     binding:"required,datetime=15:04"`
	MeetingLink string `json:"meeting_link" binding:"omitempty,url"`
}

type UpdateDTO struct {
	Title       *string `json:"title"        binding:"omitempty,min=3"`
	Date        *string `json:"date"         binding:"omitempty,datetime=2006-01-02"`
	StartTime   *string `json:"start_time"   binding:"omitempty,datetime=15:04"`
	EndTime     *string `json:"end_time"     binding:"omitempty,datetime=15:04"`
	MeetingLink *string `json:"meeting_link" binding:"omitempty,url"`
}

// Dispatcher delivers the events produced by the reminder job.
type Dispatcher interface {
	Dispatch(ctx context.Context, evs ...events.Event)
}

type Options struct {
	Logger *zap.Logger
	// Now overrides the clock; defaults to time.Now.
	Now func() time.Time
	// Location interprets class dates and times; defaults to time.Local.
	Location *time.Location
	// Lead defaults to DefaultReminderLead.
	Lead time.Duration
}

type Service struct {
	store  Store
	cache  *cache.Cache
	marks  *redis.Client
	logger *zap.Logger
	now    func() time.Time
	loc    *time.Location
	lead   time.Duration
}

func NewService(store Store, c *cache.Cache, marks *redis.Client, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Lead <= 0 {
		opts.Lead = DefaultReminderLead
	}
	return &Service{
		store:  store,
		cache:  c,
		marks:  marks,
		logger: opts.Logger,
		now:    opts.Now,
		loc:    opts.Location,
		lead:   opts.Lead,
	}
}

func (q ListQuery) cacheKey() string {
	return cache.MakeKey(listNamespace, q.BatchID, q.Page, q.Size, q.Search)
}

// List returns a page of classes, cached per batch filter.
func (s *Service) List(ctx context.Context, q ListQuery) (*pagination.Page[models.Class], error) {
	q.Search = strings.TrimSpace(q.Search)
	return cache.GetOrSet(ctx, s.cache, q.cacheKey(), func(ctx context.Context) (*pagination.Page[models.Class], error) {
		return s.store.List(ctx, q)
	})
}

func (s *Service) Get(ctx context.Context, id string) (*models.Class, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errClassNotFound
	}
	return c, nil
}

func (s *Service) Create(ctx context.Context, dto *CreateDTO) (*models.Class, error) {
	start, end, err := s.schedule(dto.Date, dto.StartTime, dto.EndTime)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.BatchExists(ctx, dto.BatchID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errBatchNotFound
	}
	c := &models.Class{
		BatchID:     dto.BatchID,
		Title:       strings.TrimSpace(dto.Title),
		StartsAt:    start,
		EndsAt:      end,
		MeetingLink: dto.MeetingLink,
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}
	if err := s.invalidate(ctx); err != nil {
		return nil, err
	}
	return s.Get(ctx, c.ID)
}

func (s *Service) Update(ctx context.Context, id string, dto *UpdateDTO) (*models.Class, error) {
	c, err := s.store.Update(ctx, id, func(c *models.Class) error {
		if dto.Title != nil {
			c.Title = strings.TrimSpace(*dto.Title)
		}
		if dto.MeetingLink != nil {
			c.MeetingLink = *dto.MeetingLink
		}
		if dto.Date == nil && dto.StartTime == nil && dto.EndTime == nil {
			return nil
		}
		start, end := c.StartsAt.In(s.loc), c.EndsAt.In(s.loc)
		date, from, to := start.Format(dateLayout), start.Format(timeLayout), end.Format(timeLayout)
		if dto.Date != nil {
			date = *dto.Date
		}
		if dto.StartTime != nil {
			from = *dto.StartTime
		}
		if dto.EndTime != nil {
			to = *dto.EndTime
		}
		var err error
		c.StartsAt, c.EndsAt, err = s.schedule(date, from, to)
		return err
	})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errClassNotFound
	}
	if err := s.invalidate(ctx); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	c, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if c == nil {
		return errClassNotFound
	}
	return s.invalidate(ctx)
}

// MyClasses returns the classes of the active batches userID is enrolled in.
func (s *Service) MyClasses(ctx context.Context, userID string) ([]models.Class, error) {
	out, err := cache.GetOrSet(ctx, s.cache, cache.MakeKey(userClassesNamespace, userID), func(ctx context.Context) (*[]models.Class, error) {
		list, err := s.store.ForUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &list, nil
	})
	if err != nil {
		return nil, err
	}
	return *out, nil
}

// DueReminders returns one reminder event per enrolled user of every class
// starting within the lead window. A user is reminded of a class once.
func (s *Service) DueReminders(ctx context.Context) ([]events.Event, error) {
	now := s.now()
	targets, err := s.store.Upcoming(ctx, now, now.Add(s.lead))
	if err != nil {
		return nil, err
	}
	var evs []events.Event
	for _, r := range targets {
		id := r.ClassID + ":" + r.UserID
		fresh, err := s.marks.SetNX(ctx, reminderMarkPrefix+id, "1", r.StartsAt.Sub(now)+s.lead)
		if err != nil {
			return evs, err
		}
		if !fresh {
			continue
		}
		evs = append(evs, events.New(events.ClassReminder, r.Email, "class-reminder:"+id, map[string]interface{}{
			"name":        r.Name,
			"classTitle":  r.ClassTitle,
			"batchName":   r.BatchName,
			"courseName":  r.CourseTitle,
			"startsAt":    r.StartsAt.In(s.loc).Format("2006-01-02 15:04 MST"),
			"meetingLink": r.MeetingLink,
		}))
	}
	if len(evs) > 0 {
		s.logger.Info("class reminders due", zap.Int("count", len(evs)))
	}
	return evs, nil
}

// ReminderJob schedules DueReminders and hands the events to d.
func (s *Service) ReminderJob(interval time.Duration, d Dispatcher) cron.Job {
	return cron.Job{
		Name:        ReminderJobName,
		Description: "Email enrolled students about classes starting soon",
		Interval:    interval,
		Fn: func(ctx context.Context) error {
			evs, err := s.DueReminders(ctx)
			d.Dispatch(ctx, evs...)
			return err
		},
	}
}

func (s *Service) schedule(date, from, to string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(dateLayout+" "+timeLayout, date+" "+from, s.loc)
	if err != nil {
		return time.Time{}, time.Time{}, response.NewError(http.StatusBadRequest, "Invalid class date or start time")
	}
	end, err := time.ParseInLocation(dateLayout+" "+timeLayout, date+" "+to, s.loc)
	if err != nil {
		return time.Time{}, time.Time{}, response.NewError(http.StatusBadRequest, "Invalid class end time")
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, errInvalidTime
	}
	return start, end, nil
}

// Class lists embed class rows, so every write drops them.
func (s *Service) invalidate(ctx context.Context) error {
	return s.cache.Invalidate(ctx, listNamespace+"*", userClassesNamespace+":*")
}
