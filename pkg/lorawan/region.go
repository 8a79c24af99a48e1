package lorawan

import "fmt"

// RegionConfiguration represents region-specific configuration
type RegionConfiguration struct {
	Name                string
	DefaultChannels     []Channel
	DataRates           []DataRate
	MaxPayloadSizePerDR map[int]int
	// DutyCycle is the regulatory transmit fraction, zero when the band uses dwell time instead
	DutyCycle float64
}

// Channel represents a LoRa channel
type Channel struct {
	Frequency uint32
	MinDR     int
	MaxDR     int
}

// DataRate represents a data rate configuration
type DataRate struct {
	SpreadFactor int
	Bandwidth    int // kHz
	BitRate      int
}

// GetRegionConfiguration returns configuration for a region
func GetRegionConfiguration(region string) (*RegionConfiguration, error) {
	switch region {
	case "EU868":
		return &EU868Configuration, nil
	case "US915":
		return &US915Configuration, nil
	default:
		return nil, fmt.Errorf("unsupported region %q", region)
	}
}

// EU868Configuration for EU 868MHz band
var EU868Configuration = RegionConfiguration{
	Name: "EU868",
	DefaultChannels: []Channel{
		{Frequency: 868100000, MinDR: 0, MaxDR: 5},
		{Frequency: 868300000, MinDR: 0, MaxDR: 5},
		{Frequency: 868500000, MinDR: 0, MaxDR: 5},
	},
	DataRates: []DataRate{
		{SpreadFactor: 12, Bandwidth: 125, BitRate: 250},  // DR0
		{SpreadFactor: 11, Bandwidth: 125, BitRate: 440},  // DR1
		{SpreadFactor: 10, Bandwidth: 125, BitRate: 980},  // DR2
		{SpreadFactor: 9, Bandwidth: 125, BitRate: 1760},  // DR3
		{SpreadFactor: 8, Bandwidth: 125, BitRate: 3125},  // DR4
		{SpreadFactor: 7, Bandwidth: 125, BitRate: 5470},  // DR5
		{SpreadFactor: 7, Bandwidth: 250, BitRate: 11000}, // DR6
	},
	MaxPayloadSizePerDR: map[int]int{
		0: 51,
		1: 51,
		2: 51,
		3: 115,
		4: 242,
		5: 242,
		6: 242,
	},
	DutyCycle: 0.01,
}

// US915Configuration for US 915MHz band
var US915Configuration = RegionConfiguration{
	Name: "US915",
	// 64 uplink channels at 200kHz spacing; only the first sub-band is listed
	DefaultChannels: []Channel{
		{Frequency: 902300000, MinDR: 0, MaxDR: 3},
		{Frequency: 902500000, MinDR: 0, MaxDR: 3},
		{Frequency: 902700000, MinDR: 0, MaxDR: 3},
		{Frequency: 902900000, MinDR: 0, MaxDR: 3},
		{Frequency: 903100000, MinDR: 0, MaxDR: 3},
		{Frequency: 903300000, MinDR: 0, MaxDR: 3},
		{Frequency: 903500000, MinDR: 0, MaxDR: 3},
		{Frequency: 903700000, MinDR: 0, MaxDR: 3},
	},
	DataRates: []DataRate{
		{SpreadFactor: 10, Bandwidth: 125, BitRate: 980},  // DR0
		{SpreadFactor: 9, Bandwidth: 125, BitRate: 1760},  // DR1
		{SpreadFactor: 8, Bandwidth: 125, BitRate: 3125},  // DR2
		{SpreadFactor: 7, Bandwidth: 125, BitRate: 5470},  // DR3
		{SpreadFactor: 8, Bandwidth: 500, BitRate: 12500}, // DR4
	},
	MaxPayloadSizePerDR: map[int]int{
		0: 11,
		1: 53,
		2: 125,
		3: 242,
		4: 242,
	},
}

// DataRateIndex returns the first data rate using sf at 125kHz
func (r *RegionConfiguration) DataRateIndex(sf int) (int, error) {
	for i, dr := range r.DataRates {
		if dr.SpreadFactor == sf && dr.Bandwidth == 125 {
			return i, nil
		}
	}
	return 0, fmt.Errorf("spreading factor SF%d not available in %s", sf, r.Name)
}

// GetDataRate returns the data rate at index dr
func (r *RegionConfiguration) GetDataRate(dr int) (DataRate, error) {
	if dr < 0 || dr >= len(r.DataRates) {
		return DataRate{}, fmt.Errorf("invalid data rate DR%d for %s", dr, r.Name)
	}
	return r.DataRates[dr], nil
}

// GetMaxPayloadSize returns the application payload limit at data rate dr
func (r *RegionConfiguration) GetMaxPayloadSize(dr int) int {
	if size, ok := r.MaxPayloadSizePerDR[dr]; ok {
		return size
	}
	return 0
}
