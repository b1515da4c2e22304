package gatt

// A Service is a BLE service: a Service Declaration attribute followed by
// its characteristics' attributes and, optionally, Include declarations
// pointing at other services. Calls to AddCharacteristic and
// AddIncludedService must occur before the service's Server is compiled.
type Service struct {
	uuid       UUID
	secondary  bool
	chars      []*Characteristic
	includes   []*Service

	// assigned by compile (called from Server.Start)
	declHandle uint16
	endHandle  uint16
}

// NewService returns a new primary service with the given UUID.
func NewService(u UUID) *Service {
	return &Service{uuid: u}
}

// NewSecondaryService returns a new secondary service with the given UUID.
// A secondary service is only meaningful when referenced by another
// service's AddIncludedService; it has no standalone entry in top-level
// service discovery, [Vol 3, Part G, 3.1].
func NewSecondaryService(u UUID) *Service {
	return &Service{uuid: u, secondary: true}
}

// AddCharacteristic adds a characteristic to a service.
// AddCharacteristic panics if the service already contains
// another characteristic with the same UUID.
func (s *Service) AddCharacteristic(u UUID) *Characteristic {
	for _, char := range s.chars {
		if uuidEqual(char.uuid, u) {
			panic("service already contains a characteristic with uuid " + u.String())
		}
	}

	char := &Characteristic{
		service:  s,
		uuid:     u,
		readSec:  SecurityNone,
		writeSec: SecurityNone,
	}
	s.chars = append(s.chars, char)
	return char
}

// AddIncludedService declares that s includes other, [Vol 3, Part G,
// 3.2]: other's characteristics become reachable from s without a
// separate service-discovery round trip. other must already be attached
// to the same Server; the include is resolved to a handle range when the
// Server is compiled.
func (s *Service) AddIncludedService(other *Service) {
	s.includes = append(s.includes, other)
}

// UUID returns the service's UUID.
func (s *Service) UUID() UUID {
	return s.uuid
}
