package lifecycle

import (
	"context"

	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/utils"
	"github.com/congraphcms/eav-sub001/pkg/values"
)

func (c *Coordinator) CreateLocale(ctx context.Context, req models.CreateLocaleRequest) (*models.Locale, error) {
	req, err := utils.Validate(req)
	if err != nil {
		return nil, err
	}

	var created *models.Locale
	err = c.run(ctx, "locale.create", func(ctx context.Context, cmd *Command) error {
		if _, exists := cmd.Snapshot.Locale(req.Code); exists {
			return eaverrors.NewFieldError("code", "already exists")
		}
		cmd.advance(ctx, StateValidated)

		created, err = c.repos.Locales.Create(ctx, req)
		if err != nil {
			return err
		}
		cmd.advance(ctx, StatePersisted)
		c.invalidateOnCommit(cmd)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// DeleteLocale removes the locale, its options and every value stored for it.
func (c *Coordinator) DeleteLocale(ctx context.Context, id int64) error {
	return c.run(ctx, "locale.delete", func(ctx context.Context, cmd *Command) error {
		if _, ok := cmd.Snapshot.LocaleByID(id); !ok {
			return eaverrors.NewNotFoundError("locale", id)
		}
		cmd.advance(ctx, StateValidated)

		localeID := id
		if err := c.sweep(ctx, values.Criteria{LocaleID: &localeID}); err != nil {
			return err
		}
		if err := c.repos.Attributes.DeleteLocaleOptions(ctx, id); err != nil {
			return err
		}
		if err := c.repos.Locales.Delete(ctx, id); err != nil {
			return err
		}
		cmd.advance(ctx, StatePersisted)
		c.invalidateOnCommit(cmd)
		return nil
	})
}
