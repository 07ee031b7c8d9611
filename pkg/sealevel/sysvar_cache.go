package sealevel

// SysvarCache holds the decoded sysvars an instruction may read. The bank
// fills it before a transaction runs.
type SysvarCache struct {
	clock *SysvarClock
	rent  *SysvarRent
}

func (sysvarCache *SysvarCache) Clock() (*SysvarClock, error) {
	if sysvarCache.clock == nil {
		return nil, InstrErrUnsupportedSysvar
	}
	return sysvarCache.clock, nil
}

func (sysvarCache *SysvarCache) Rent() (*SysvarRent, error) {
	if sysvarCache.rent == nil {
		return nil, InstrErrUnsupportedSysvar
	}
	return sysvarCache.rent, nil
}

func (sysvarCache *SysvarCache) SetClock(clock SysvarClock) {
	sysvarCache.clock = &clock
}

func (sysvarCache *SysvarCache) SetRent(rent SysvarRent) {
	sysvarCache.rent = &rent
}
