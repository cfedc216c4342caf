package models

import "time"

// Dataset names the canonical fact tables owned by the ingestion layer.
type Dataset string

const (
	DatasetRetail     Dataset = "retail"
	DatasetOrders     Dataset = "orders"
	DatasetInventory  Dataset = "inventory"
	DatasetFulfilment Dataset = "fulfilment"
	DatasetTraffic    Dataset = "traffic"
	DatasetWeather    Dataset = "weather"
)

// Datasets lists every fact table in existence-check order.
var Datasets = []Dataset{
	DatasetRetail,
	DatasetOrders,
	DatasetInventory,
	DatasetFulfilment,
	DatasetTraffic,
	DatasetWeather,
}

// RetailRecord is one day of performance for a single SKU.
type RetailRecord struct {
	SourceID  string
	TenantID  string
	Date      time.Time
	SKU       string
	Revenue   float64
	Units     float64
	Traffic   float64
	Inventory float64
	Returns   float64
}

// OrderRecord is a single order line.
type OrderRecord struct {
	SourceID string
	TenantID string
	OrderID  string
	SKU      string
	Quantity float64
	Revenue  float64
	Date     time.Time
	Region   string
}

// InventoryRecord is an available-quantity snapshot for a SKU at a location.
type InventoryRecord struct {
	SourceID     string
	TenantID     string
	SKU          string
	Location     string
	AvailableQty float64
	Date         time.Time
}

// FulfilmentStatus enumerates shipment outcomes.
type FulfilmentStatus string

const (
	FulfilmentDispatched FulfilmentStatus = "dispatched"
	FulfilmentDelivered  FulfilmentStatus = "delivered"
	FulfilmentReturned   FulfilmentStatus = "returned"
	FulfilmentCancelled  FulfilmentStatus = "cancelled"
	FulfilmentRTO        FulfilmentStatus = "rto"
)

// FulfilmentRecord tracks a shipment through dispatch and delivery.
type FulfilmentRecord struct {
	SourceID     string
	TenantID     string
	OrderID      string
	SKU          string
	DispatchDate time.Time
	DeliveryDate time.Time
	DelayDays    float64
	Carrier      string
	Warehouse    string
	Region       string
	Status       FulfilmentStatus
}

// TrafficRecord is one day of acquisition data for a channel.
type TrafficRecord struct {
	SourceID    string
	TenantID    string
	Date        time.Time
	Channel     string
	SKU         string
	Sessions    float64
	Impressions float64
	Clicks      float64
	Spend       float64
}

// WeatherRecord is one day of weather observations for a region.
type WeatherRecord struct {
	SourceID   string
	TenantID   string
	Date       time.Time
	Region     string
	TempMin    float64
	TempMax    float64
	RainfallMM float64
	Humidity   float64
}
