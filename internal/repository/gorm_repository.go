package repository

import (
	"context"
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/go-sql-driver/mysql"
	lru "github.com/hashicorp/golang-lru"

	"github.com/meesign/meesignd/coreerrors"
	"github.com/meesign/meesignd/internal/domain"
	"github.com/meesign/meesignd/log"
)

var logger = log.NewModuleLogger(log.Repository)

const (
	deviceCacheSize = 1024
	groupCacheSize  = 256
)

// gormRepository is the SQL-backed Repository implementation. It wraps a
// *gorm.DB and fronts device/group lookups with hashicorp/golang-lru caches
// so a Communicator rebuild doesn't round-trip to SQL for every
// participant.
type gormRepository struct {
	db *gorm.DB

	deviceCache *lru.Cache // identifier string -> *domain.Device
	groupCache  *lru.Cache // identifier string -> *domain.Group
}

// Open establishes a gorm connection (dialect/dsn forwarded verbatim to
// gorm.Open, e.g. "mysql", "user:pass@tcp(host)/db?parseTime=true") and
// auto-migrates the device/group/task schema.
func Open(dialect, dsn string) (Repository, error) {
	db, err := gorm.Open(dialect, dsn)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.StorageError, err, "open database")
	}
	db.AutoMigrate(&deviceRow{}, &signingGroupRow{}, &groupParticipantRow{}, &taskRow{}, &taskParticipantRow{})

	dc, _ := lru.New(deviceCacheSize)
	gc, _ := lru.New(groupCacheSize)
	return &gormRepository{db: db, deviceCache: dc, groupCache: gc}, nil
}

func (r *gormRepository) AddDevice(ctx context.Context, identifier []byte, name string, cert []byte) (*domain.Device, error) {
	if !domain.ValidIdentifier(identifier) || !domain.ValidDeviceName(name) || len(cert) == 0 {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "invalid device fields")
	}

	var existing deviceRow
	if err := r.db.Where("identifier = ?", identifier).First(&existing).Error; err == nil {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "device %x already enrolled", identifier)
	} else if err != gorm.ErrRecordNotFound {
		return nil, coreerrors.Wrap(coreerrors.StorageError, err, "check existing device")
	}

	row := &deviceRow{Identifier: identifier, DeviceName: name, Certificate: cert, LastActive: time.Now().UTC()}
	if err := r.db.Create(row).Error; err != nil {
		return nil, coreerrors.Wrap(coreerrors.InvalidArgument, err, "insert device")
	}
	d := toDomainDevice(row)
	r.deviceCache.Add(string(identifier), d)
	return d, nil
}

func (r *gormRepository) GetDevices(ctx context.Context) ([]*domain.Device, error) {
	var rows []deviceRow
	if err := r.db.Find(&rows).Error; err != nil {
		return nil, coreerrors.Wrap(coreerrors.StorageError, err, "list devices")
	}
	out := make([]*domain.Device, len(rows))
	for i := range rows {
		out[i] = toDomainDevice(&rows[i])
	}
	return out, nil
}

func (r *gormRepository) GetDevice(ctx context.Context, identifier []byte) (*domain.Device, error) {
	if cached, ok := r.deviceCache.Get(string(identifier)); ok {
		return cached.(*domain.Device), nil
	}
	var row deviceRow
	err := r.db.Where("identifier = ?", identifier).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.StorageError, err, "get device")
	}
	d := toDomainDevice(&row)
	r.deviceCache.Add(string(identifier), d)
	return d, nil
}

func (r *gormRepository) ActivateDevice(ctx context.Context, identifier []byte) (*domain.Device, error) {
	now := time.Now().UTC()
	res := r.db.Model(&deviceRow{}).Where("identifier = ?", identifier).Update("last_active", now)
	if res.Error != nil {
		return nil, coreerrors.Wrap(coreerrors.StorageError, res.Error, "activate device")
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	r.deviceCache.Remove(string(identifier))
	return r.GetDevice(ctx, identifier)
}

func (r *gormRepository) AddGroup(ctx context.Context, identifier []byte, name string, deviceIDs [][]byte, threshold int, protocol domain.ProtocolType, keyType domain.KeyType, cert []byte) (*domain.Group, error) {
	if !domain.ValidIdentifier(identifier) {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "empty group identifier")
	}
	if !domain.ValidThreshold(threshold, len(deviceIDs)) {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "threshold %d invalid for %d devices", threshold, len(deviceIDs))
	}
	if !domain.ValidProtocolKeyTypePair(protocol, keyType) {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "protocol %s does not admit key type %s", protocol, keyType)
	}

	tx := r.db.Begin()
	if tx.Error != nil {
		return nil, coreerrors.Wrap(coreerrors.StorageError, tx.Error, "begin transaction")
	}

	row := &signingGroupRow{
		Identifier:       identifier,
		GroupName:        name,
		Threshold:        threshold,
		Protocol:         int(protocol),
		KeyType:          int(keyType),
		GroupCertificate: cert,
	}
	if err := tx.Create(row).Error; err != nil {
		tx.Rollback()
		return nil, coreerrors.Wrap(coreerrors.InvalidArgument, err, "insert group")
	}

	for _, devID := range deviceIDs {
		var dev deviceRow
		if err := tx.Where("identifier = ?", devID).First(&dev).Error; err != nil {
			tx.Rollback()
			return nil, coreerrors.Wrap(coreerrors.InvalidArgument, err, "resolve group member")
		}
		if err := tx.Create(&groupParticipantRow{DeviceID: dev.ID, GroupID: row.ID}).Error; err != nil {
			tx.Rollback()
			return nil, coreerrors.Wrap(coreerrors.StorageError, err, "insert group membership")
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, coreerrors.Wrap(coreerrors.StorageError, err, "commit group creation")
	}
	g := toDomainGroup(row)
	r.groupCache.Add(string(identifier), g)
	return g, nil
}

func (r *gormRepository) GetGroups(ctx context.Context) ([]*domain.Group, error) {
	var rows []signingGroupRow
	if err := r.db.Find(&rows).Error; err != nil {
		return nil, coreerrors.Wrap(coreerrors.StorageError, err, "list groups")
	}
	out := make([]*domain.Group, len(rows))
	for i := range rows {
		out[i] = toDomainGroup(&rows[i])
	}
	return out, nil
}

func (r *gormRepository) GetGroup(ctx context.Context, identifier []byte) (*domain.Group, error) {
	if cached, ok := r.groupCache.Get(string(identifier)); ok {
		return cached.(*domain.Group), nil
	}
	var row signingGroupRow
	err := r.db.Where("identifier = ?", identifier).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.StorageError, err, "get group")
	}
	g := toDomainGroup(&row)
	r.groupCache.Add(string(identifier), g)
	return g, nil
}

func (r *gormRepository) GetDeviceGroups(ctx context.Context, deviceIdentifier []byte) ([]*domain.Group, error) {
	var dev deviceRow
	if err := r.db.Where("identifier = ?", deviceIdentifier).First(&dev).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, coreerrors.Wrap(coreerrors.StorageError, err, "resolve device")
	}
	var memberships []groupParticipantRow
	if err := r.db.Where("device_id = ?", dev.ID).Find(&memberships).Error; err != nil {
		return nil, coreerrors.Wrap(coreerrors.StorageError, err, "list memberships")
	}
	out := make([]*domain.Group, 0, len(memberships))
	for _, m := range memberships {
		var row signingGroupRow
		if err := r.db.Where("id = ?", m.GroupID).First(&row).Error; err != nil {
			continue
		}
		out = append(out, toDomainGroup(&row))
	}
	return out, nil
}

func (r *gormRepository) createTask(ctx context.Context, taskType domain.TaskType, groupRowID *int64, request, data []byte, deviceIDs [][]byte, threshold int, protocol *domain.ProtocolType, keyType *domain.KeyType) (*domain.Task, error) {
	id, err := domain.NewTaskID()
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.StorageError, err, "generate task id")
	}

	row := &taskRow{
		ID:            id,
		TaskType:      int(taskType),
		TaskState:     int(domain.TaskCreated),
		ProtocolRound: 0,
		AttemptCount:  0,
		LastUpdate:    time.Now().UTC(),
		Threshold:     threshold,
		GroupID:       groupRowID,
		TaskData:      data,
		Request:       request,
	}
	if protocol != nil {
		p := int(*protocol)
		row.ProtocolType = &p
	}
	if keyType != nil {
		k := int(*keyType)
		row.KeyType = &k
	}

	tx := r.db.Begin()
	if tx.Error != nil {
		return nil, coreerrors.Wrap(coreerrors.StorageError, tx.Error, "begin transaction")
	}
	if err := tx.Create(row).Error; err != nil {
		tx.Rollback()
		return nil, coreerrors.Wrap(coreerrors.StorageError, err, "insert task")
	}
	for _, devID := range deviceIDs {
		var dev deviceRow
		if err := tx.Where("identifier = ?", devID).First(&dev).Error; err != nil {
			tx.Rollback()
			return nil, coreerrors.Wrap(coreerrors.InvalidArgument, err, "resolve task participant")
		}
		if err := tx.Create(&taskParticipantRow{DeviceID: dev.ID, TaskID: id}).Error; err != nil {
			tx.Rollback()
			return nil, coreerrors.Wrap(coreerrors.StorageError, err, "insert task membership")
		}
	}
	if err := tx.Commit().Error; err != nil {
		return nil, coreerrors.Wrap(coreerrors.StorageError, err, "commit task creation")
	}
	return toDomainTask(row), nil
}

func (r *gormRepository) CreateGroupTask(ctx context.Context, request []byte, deviceIDs [][]byte, threshold int, protocol domain.ProtocolType, keyType domain.KeyType) (*domain.Task, error) {
	if !domain.ValidProtocolKeyTypePair(protocol, keyType) {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "protocol %s does not admit key type %s", protocol, keyType)
	}
	if !domain.ValidThreshold(threshold, len(deviceIDs)) {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "threshold %d invalid for %d devices", threshold, len(deviceIDs))
	}
	return r.createTask(ctx, domain.TaskGroup, nil, request, nil, deviceIDs, threshold, &protocol, &keyType)
}

func (r *gormRepository) resolveGroupRow(groupIdentifier []byte) (*signingGroupRow, error) {
	var row signingGroupRow
	if err := r.db.Where("identifier = ?", groupIdentifier).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, coreerrors.New(coreerrors.InvalidArgument, "unknown group %x", groupIdentifier)
		}
		return nil, coreerrors.Wrap(coreerrors.StorageError, err, "resolve group")
	}
	return &row, nil
}

func (r *gormRepository) CreateSignTask(ctx context.Context, groupIdentifier []byte, request []byte, data []byte, deviceIDs [][]byte, threshold int) (*domain.Task, error) {
	if !domain.ValidTaskData(data) {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "invalid sign task payload size")
	}
	group, err := r.resolveGroupRow(groupIdentifier)
	if err != nil {
		return nil, err
	}
	pt := domain.ProtocolType(group.Protocol)
	kt := domain.KeyType(group.KeyType)
	return r.createTask(ctx, domain.TaskSign, &group.ID, request, data, deviceIDs, threshold, &pt, &kt)
}

func (r *gormRepository) CreateDecryptTask(ctx context.Context, groupIdentifier []byte, request []byte, data []byte, deviceIDs [][]byte, threshold int) (*domain.Task, error) {
	if !domain.ValidTaskData(data) {
		return nil, coreerrors.New(coreerrors.InvalidArgument, "invalid decrypt task payload size")
	}
	group, err := r.resolveGroupRow(groupIdentifier)
	if err != nil {
		return nil, err
	}
	pt := domain.ProtocolType(group.Protocol)
	kt := domain.KeyType(group.KeyType)
	return r.createTask(ctx, domain.TaskDecrypt, &group.ID, request, data, deviceIDs, threshold, &pt, &kt)
}

func (r *gormRepository) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	var row taskRow
	err := r.db.Where("id = ?", id).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.StorageError, err, "get task")
	}
	return toDomainTask(&row), nil
}

func (r *gormRepository) GetTasks(ctx context.Context) ([]*domain.Task, error) {
	var rows []taskRow
	if err := r.db.Find(&rows).Error; err != nil {
		return nil, coreerrors.Wrap(coreerrors.StorageError, err, "list tasks")
	}
	out := make([]*domain.Task, len(rows))
	for i := range rows {
		out[i] = toDomainTask(&rows[i])
	}
	return out, nil
}

func (r *gormRepository) GetTaskDevices(ctx context.Context, id string) ([]*domain.Device, error) {
	var memberships []taskParticipantRow
	if err := r.db.Where("task_id = ?", id).Find(&memberships).Error; err != nil {
		return nil, coreerrors.Wrap(coreerrors.StorageError, err, "list task participants")
	}
	out := make([]*domain.Device, 0, len(memberships))
	for _, m := range memberships {
		var dev deviceRow
		if err := r.db.Where("id = ?", m.DeviceID).First(&dev).Error; err != nil {
			continue
		}
		out = append(out, toDomainDevice(&dev))
	}
	return out, nil
}

func (r *gormRepository) GetTasksForRestart(ctx context.Context, stallTimeout time.Duration) ([]*domain.Task, error) {
	cutoff := time.Now().UTC().Add(-stallTimeout)
	var rows []taskRow
	err := r.db.Where("task_state IN (?, ?) AND last_update < ?", int(domain.TaskCreated), int(domain.TaskRunning), cutoff).Find(&rows).Error
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.StorageError, err, "list restart-eligible tasks")
	}
	out := make([]*domain.Task, len(rows))
	for i := range rows {
		out[i] = toDomainTask(&rows[i])
	}
	return out, nil
}

func (r *gormRepository) SetTaskLastUpdate(ctx context.Context, id string) error {
	err := r.db.Model(&taskRow{}).Where("id = ?", id).Update("last_update", time.Now().UTC()).Error
	if err != nil {
		return coreerrors.Wrap(coreerrors.StorageError, err, "touch task")
	}
	return nil
}

func (r *gormRepository) IncrementTaskAttemptCount(ctx context.Context, id string) error {
	err := r.db.Model(&taskRow{}).Where("id = ?", id).
		UpdateColumn("attempt_count", gorm.Expr("attempt_count + 1")).Error
	if err != nil {
		return coreerrors.Wrap(coreerrors.StorageError, err, "increment attempt count")
	}
	return nil
}

func (r *gormRepository) SetTaskState(ctx context.Context, id string, state domain.TaskState) error {
	err := r.db.Model(&taskRow{}).Where("id = ?", id).Update("task_state", int(state)).Error
	if err != nil {
		return coreerrors.Wrap(coreerrors.StorageError, err, "set task state")
	}
	return nil
}

func (r *gormRepository) SetTaskResult(ctx context.Context, id string, result []byte) error {
	err := r.db.Model(&taskRow{}).Where("id = ?", id).Updates(map[string]interface{}{
		"task_state":  int(domain.TaskFinished),
		"result_data": result,
		"last_update": time.Now().UTC(),
	}).Error
	if err != nil {
		return coreerrors.Wrap(coreerrors.StorageError, err, "set task result")
	}
	return nil
}

func (r *gormRepository) SetTaskError(ctx context.Context, id string, msg string) error {
	err := r.db.Model(&taskRow{}).Where("id = ?", id).Updates(map[string]interface{}{
		"task_state":    int(domain.TaskFailed),
		"error_message": msg,
		"last_update":   time.Now().UTC(),
	}).Error
	if err != nil {
		return coreerrors.Wrap(coreerrors.StorageError, err, "set task error")
	}
	return nil
}

// Close releases the underlying database handle.
func (r *gormRepository) Close() error {
	logger.Info("closing repository")
	return r.db.Close()
}
