package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mcstore/internal/models"
	"mcstore/internal/pluginclient"
	"mcstore/internal/store"
	"mcstore/internal/util"

	"go.uber.org/zap"
)

// DeliveryStore resolves the user and product of a delivery
type DeliveryStore interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetProductByID(ctx context.Context, id string) (*models.Product, error)
}

// DeliveryService runs a product's in-game commands through the plugin webhook
type DeliveryService struct {
	store  DeliveryStore
	plugin Plugin
	logger *zap.Logger
}

// NewDeliveryService creates a new delivery service
func NewDeliveryService(store DeliveryStore, plugin Plugin) *DeliveryService {
	return &DeliveryService{
		store:  store,
		plugin: plugin,
		logger: util.GetLogger(),
	}
}

// Deliver satisfies Deliverer for synchronous delivery
func (ds *DeliveryService) Deliver(ctx context.Context, orderID, userID, productID string) error {
	return ds.DeliverProduct(ctx, userID, productID)
}

// DeliverProduct dispatches every configured command of the product for the user.
// Users without a linked Minecraft account are skipped. A failing command is logged
// and does not stop the remaining ones.
func (ds *DeliveryService) DeliverProduct(ctx context.Context, userID, productID string) error {
	ctx, span := util.StartSpan(ctx, "DeliveryService.DeliverProduct")
	defer span.End()

	user, err := ds.store.GetUserByID(ctx, userID)
	if err != nil {
		return ds.lookupError("user", userID, err)
	}
	product, err := ds.store.GetProductByID(ctx, productID)
	if err != nil {
		return ds.lookupError("product", productID, err)
	}

	if user.MinecraftUUID == "" {
		ds.logger.Warn("User has no linked Minecraft account, skipping in-game delivery",
			zap.String("user_id", userID),
			zap.String("product", product.Name))
		return nil
	}

	if len(product.InGameCommands) == 0 {
		ds.logger.Info("Product has no in-game commands", zap.String("product", product.Name))
		return nil
	}

	if !ds.plugin.Configured() {
		ds.logger.Error("Plugin URL or webhook secret not configured, cannot execute commands",
			zap.String("product", product.Name))
		util.DeliveryCommandsTotal.WithLabelValues("not_configured").Add(float64(len(product.InGameCommands)))
		return nil
	}

	player := pluginclient.PlayerContext{
		PlayerName: user.PlayerName(),
		UUID:       user.MinecraftUUID,
		Username:   user.Username,
	}

	for _, command := range product.InGameCommands {
		if strings.TrimSpace(command) == "" {
			ds.logger.Warn("Skipping empty command", zap.String("product", product.Name))
			util.DeliveryCommandsTotal.WithLabelValues("skipped").Inc()
			continue
		}

		if err := ds.plugin.ExecuteCommand(ctx, command, player); err != nil {
			util.DeliveryCommandsTotal.WithLabelValues("failed").Inc()
			ds.logger.Error("Failed to send command to plugin",
				zap.String("user", user.Username),
				zap.String("command", command),
				zap.Error(err))
			continue
		}

		util.DeliveryCommandsTotal.WithLabelValues("sent").Inc()
		ds.logger.Info("Dispatched command",
			zap.String("user", user.Username),
			zap.String("command", command))
	}

	return nil
}

func (ds *DeliveryService) lookupError(kind, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: invalid %s %s for delivery", ErrNotFound, kind, id)
	}
	return fmt.Errorf("failed to load %s %s: %w", kind, id, err)
}
