package main

type PortalConfig struct {
	BaseUrl     string `json:"base_url"`
	Namespace   string `json:"namespace"`
	TrainerName string `json:"trainer_name"`
	TrainerId   string `json:"trainer_id"`

	KeychainDb string `json:"keychain_db"`
	Port       int    `json:"port"`

	SweepIntervalMins int  `json:"sweep_interval_mins"`
	ValidateOnReuse   bool `json:"validate_on_reuse"`
	Debug             bool `json:"debug"`
}
