package series

import "math"

// Column names of the household power consumption dataset after hourly aggregation.
const (
	GlobalActivePower   = "Global_active_power"
	GlobalReactivePower = "Global_reactive_power"
	Voltage             = "Voltage"
	GlobalIntensity     = "Global_intensity"
	SubMetering1        = "Sub_metering_1"
	SubMetering2        = "Sub_metering_2"
	SubMetering3        = "Sub_metering_3"
	OtherConsumption    = "Other_Consumption"
)

// Columns are all dataset columns in storage order.
var Columns = []string{
	GlobalActivePower, GlobalReactivePower, Voltage, GlobalIntensity,
	SubMetering1, SubMetering2, SubMetering3, OtherConsumption,
}

// SubMeters are the sub-metered consumption columns.
var SubMeters = []string{SubMetering1, SubMetering2, SubMetering3}

// Residual returns the consumption not attributed to any sub-meter, never negative.
// An unknown (NaN) sub-meter leaves no residual.
func Residual(total float64, subMeters ...float64) float64 {
	for _, v := range subMeters {
		total -= v
	}
	if math.IsNaN(total) || total < 0 {
		return 0
	}
	return total
}
