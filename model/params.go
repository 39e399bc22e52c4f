package model

// VesselParams describes the simulated vessel.
type VesselParams struct {
	InnerDiameterMm float64 `json:"innerDiameter"`
	ElasticityMPa   float64 `json:"elasticity"`
	Curvature       float64 `json:"curvature"` // simplified index, 0-1
}

// BloodParams describes blood flow through the vessel.
type BloodParams struct {
	FlowVelocityCms float64 `json:"flowVelocity"`
	ViscosityCp     float64 `json:"viscosity"`
	Pulsatility     float64 `json:"pulsatility"` // 0-1
}

// GuidewireParams describes the guidewire and its advance control.
type GuidewireParams struct {
	DiameterInch       float64 `json:"diameter"`
	LengthCm           float64 `json:"length"`
	Stiffness          float64 `json:"stiffness"` // arbitrary 10-100
	AdvanceSpeedCmPerS float64 `json:"advanceSpeed"`
}

// FrictionParams holds catheter/stent friction coefficients.
type FrictionParams struct {
	Catheter float64 `json:"catheter"`
	Stent    float64 `json:"stent"`
	Mu       float64 `json:"mu"`
}

// Params is the complete live parameter set read by the simulation on
// demand.
type Params struct {
	Vessel    VesselParams    `json:"vessel"`
	Blood     BloodParams     `json:"blood"`
	Guidewire GuidewireParams `json:"guidewire"`
	Friction  FrictionParams  `json:"friction"`
}

// DefaultParams returns the sandbox's starting parameter set.
func DefaultParams() Params {
	return Params{
		Vessel: VesselParams{
			InnerDiameterMm: 3.0,
			ElasticityMPa:   2.2,
			Curvature:       0.25,
		},
		Blood: BloodParams{
			FlowVelocityCms: 20,
			ViscosityCp:     3.5,
			Pulsatility:     0.6,
		},
		Guidewire: GuidewireParams{
			DiameterInch:       0.02,
			LengthCm:           260,
			Stiffness:          60,
			AdvanceSpeedCmPerS: 2.0,
		},
		Friction: FrictionParams{
			Catheter: 0.12,
			Stent:    0.045,
			Mu:       0.12,
		},
	}
}
