package allocation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cucumber/godog"
	"github.com/fekuna/omnipos-lot-service/internal/lot"
	"github.com/fekuna/omnipos-lot-service/internal/model"
	"github.com/shopspring/decimal"
)

type allocationTestContext struct {
	productID string
	lots      []model.Lot
	plan      *model.AllocationPlan
	err       error
}

func (c *allocationTestContext) reset() {
	c.productID = ""
	c.lots = nil
	c.plan = nil
	c.err = nil
}

func (c *allocationTestContext) product(productID string) error {
	c.productID = productID
	return nil
}

func (c *allocationTestContext) addLot(id string, qty int, expiresInDays *int) {
	l := createTestLot(id, int64(len(c.lots)+1), int64(qty), nil)
	l.ProductID = c.productID
	if expiresInDays != nil {
		l.ExpiresAt = timePtr(day0.AddDate(0, 0, *expiresInDays))
	}
	c.lots = append(c.lots, l)
}

func (c *allocationTestContext) lotExpiringIn(id string, qty, days int) error {
	c.addLot(id, qty, &days)
	return nil
}

func (c *allocationTestContext) lotWithoutExpiry(id string, qty int) error {
	c.addLot(id, qty, nil)
	return nil
}

func (c *allocationTestContext) lotIsMarked(id, status string) error {
	for i := range c.lots {
		if c.lots[i].ID == id {
			c.lots[i].Status = model.LotStatus(status)
			return nil
		}
	}
	return fmt.Errorf("unknown lot %q", id)
}

func (c *allocationTestContext) iAllocate(qty int) error {
	req := &model.AllocationRequest{ProductID: c.productID, Quantity: decimal.NewFromInt(int64(qty))}
	c.plan, c.err = Allocate(req, ListAvailable(c.lots, Options{Now: day0}))
	return nil
}

func (c *allocationTestContext) planTakesFrom(qty int, id string) error {
	if c.err != nil {
		return fmt.Errorf("expected plan but got error: %v", c.err)
	}
	for _, line := range c.plan.Lines {
		if line.LotID == id {
			if !line.Quantity.Equal(decimal.NewFromInt(int64(qty))) {
				return fmt.Errorf("lot %s: expected %d got %s", id, qty, line.Quantity)
			}
			return nil
		}
	}
	return fmt.Errorf("plan has no line for lot %s", id)
}

func (c *allocationTestContext) planHasLines(n int) error {
	if len(c.plan.Lines) != n {
		return fmt.Errorf("expected %d lines got %d", n, len(c.plan.Lines))
	}
	return nil
}

func (c *allocationTestContext) planAllocatesTotal(qty int) error {
	if !c.plan.TotalAllocated.Equal(decimal.NewFromInt(int64(qty))) {
		return fmt.Errorf("expected total %d got %s", qty, c.plan.TotalAllocated)
	}
	return nil
}

func (c *allocationTestContext) planCanBeFulfilled() error {
	if !c.plan.CanFulfill {
		return errors.New("expected plan to be fulfillable")
	}
	return nil
}

func (c *allocationTestContext) planCannotBeFulfilled() error {
	if c.plan.CanFulfill {
		return errors.New("expected partial plan")
	}
	return nil
}

func (c *allocationTestContext) allocationIsRejected() error {
	if !errors.Is(c.err, lot.ErrInvalidRequest) {
		return fmt.Errorf("expected invalid request, got %v", c.err)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &allocationTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^product "([^"]*)"$`, tc.product)
	ctx.Step(`^lot "([^"]*)" with (\d+) units expiring in (\d+) days$`, tc.lotExpiringIn)
	ctx.Step(`^lot "([^"]*)" with (\d+) units and no expiry$`, tc.lotWithoutExpiry)
	ctx.Step(`^lot "([^"]*)" is marked "([^"]*)"$`, tc.lotIsMarked)

	// When steps
	ctx.Step(`^I allocate (\d+) units$`, tc.iAllocate)

	// Then steps
	ctx.Step(`^the plan takes (\d+) units from lot "([^"]*)"$`, tc.planTakesFrom)
	ctx.Step(`^the plan has (\d+) lines$`, tc.planHasLines)
	ctx.Step(`^the plan allocates (\d+) units in total$`, tc.planAllocatesTotal)
	ctx.Step(`^the plan can be fulfilled$`, tc.planCanBeFulfilled)
	ctx.Step(`^the plan cannot be fulfilled$`, tc.planCannotBeFulfilled)
	ctx.Step(`^the allocation is rejected as invalid$`, tc.allocationIsRejected)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/fefo_allocation.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
