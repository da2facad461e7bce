package ws

import (
	"sync"

	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

// SubscriptionManager tracks the extra products a client follows beyond
// the one in its connection path. Lookups go both ways.
type SubscriptionManager struct {
	clientSubscriptions  map[string]map[models.ProductID]bool
	productSubscriptions map[models.ProductID]map[string]bool

	mu sync.RWMutex
}

func NewSubscriptionManager() *SubscriptionManager {
	return &SubscriptionManager{
		clientSubscriptions:  make(map[string]map[models.ProductID]bool),
		productSubscriptions: make(map[models.ProductID]map[string]bool),
	}
}

func (s *SubscriptionManager) Subscribe(clientID string, product models.ProductID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clientSubscriptions[clientID] == nil {
		s.clientSubscriptions[clientID] = make(map[models.ProductID]bool)
	}
	s.clientSubscriptions[clientID][product] = true

	if s.productSubscriptions[product] == nil {
		s.productSubscriptions[product] = make(map[string]bool)
	}
	s.productSubscriptions[product][clientID] = true
}

func (s *SubscriptionManager) Unsubscribe(clientID string, product models.ProductID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if products, ok := s.clientSubscriptions[clientID]; ok {
		delete(products, product)
		if len(products) == 0 {
			delete(s.clientSubscriptions, clientID)
		}
	}

	if clients, ok := s.productSubscriptions[product]; ok {
		delete(clients, clientID)
		if len(clients) == 0 {
			delete(s.productSubscriptions, product)
		}
	}
}

func (s *SubscriptionManager) UnsubscribeAll(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	products, ok := s.clientSubscriptions[clientID]
	if !ok {
		return
	}

	for product := range products {
		if clients, ok := s.productSubscriptions[product]; ok {
			delete(clients, clientID)
			if len(clients) == 0 {
				delete(s.productSubscriptions, product)
			}
		}
	}

	delete(s.clientSubscriptions, clientID)
}

func (s *SubscriptionManager) SubscribedProducts(clientID string) []models.ProductID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products, ok := s.clientSubscriptions[clientID]
	if !ok {
		return nil
	}

	result := make([]models.ProductID, 0, len(products))
	for p := range products {
		result = append(result, p)
	}
	return result
}

func (s *SubscriptionManager) SubscribedClients(product models.ProductID) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients, ok := s.productSubscriptions[product]
	if !ok {
		return nil
	}

	result := make([]string, 0, len(clients))
	for id := range clients {
		result = append(result, id)
	}
	return result
}

func (s *SubscriptionManager) IsSubscribed(clientID string, product models.ProductID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientSubscriptions[clientID][product]
}

func (s *SubscriptionManager) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clientSubscriptions)
}
