package writer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/FleetBox/internal/models"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	writermocks "github.com/BearBump/FleetBox/internal/services/writer/mocks"
)

var april = time.Date(2025, 4, 28, 5, 59, 4, 0, time.UTC)

func row(assetID int64, at time.Time, text string) models.VehicleStatusRow {
	return models.VehicleStatusRow{
		AssetID: assetID, Name: "Truck", PlateNumber: "AB-1", VIN: "VIN",
		EventTime: at, Latitude: 49.6, Longitude: 6.1, StatusText: text,
	}
}

type WriterSuite struct {
	suite.Suite

	repo *writermocks.MockRepository
	w    *Writer
	ctx  context.Context
}

func (s *WriterSuite) SetupTest() {
	s.repo = &writermocks.MockRepository{}
	s.w = New(s.repo)
	s.ctx = context.Background()
}

func (s *WriterSuite) TearDownTest() {
	s.repo.AssertExpectations(s.T())
}

func (s *WriterSuite) TestEmptyIsNoop() {
	rep, err := s.w.Store(s.ctx, nil)
	s.Require().NoError(err)
	s.Require().True(rep.OK())
	s.Require().Zero(rep.Attempted)
	s.repo.AssertNotCalled(s.T(), "UpsertBatch", mock.Anything, mock.Anything)
}

func (s *WriterSuite) TestBatchOK() {
	rows := []models.VehicleStatusRow{row(1, april, "a"), row(2, april, "b")}
	s.repo.On("UpsertBatch", mock.Anything, rows).Return(nil).Once()

	rep, err := s.w.Store(s.ctx, rows)
	s.Require().NoError(err)
	s.Require().True(rep.OK())
	s.Require().Equal(2, rep.Stored)
}

func (s *WriterSuite) TestPartitionRepairThenRetry() {
	rows := []models.VehicleStatusRow{row(1, april, "a")}
	month := models.PartitionMonth{Year: 2025, Month: time.April}

	s.repo.On("UpsertBatch", mock.Anything, rows).
		Return(&models.PartitionMissingError{Month: month, Err: errors.New("no partition of relation")}).Once()
	s.repo.On("EnsurePartition", mock.Anything, month).Return(true, nil).Once()
	s.repo.On("UpsertBatch", mock.Anything, rows).Return(nil).Once()

	rep, err := s.w.Store(s.ctx, rows)
	s.Require().NoError(err)
	s.Require().True(rep.OK())
	s.Require().Equal(1, rep.PartitionsCreated)
}

func (s *WriterSuite) TestPartitionRepairOnlyOnce() {
	rows := []models.VehicleStatusRow{row(1, april, "a")}
	month := models.PartitionMonth{Year: 2025, Month: time.April}
	missing := &models.PartitionMissingError{Month: month, Err: errors.New("no partition of relation")}

	s.repo.On("UpsertBatch", mock.Anything, rows).Return(missing).Twice()
	s.repo.On("EnsurePartition", mock.Anything, month).Return(false, nil).Once()

	rep, err := s.w.Store(s.ctx, rows)
	var pm *models.PartitionMissingError
	s.Require().ErrorAs(err, &pm)
	s.Require().False(rep.OK())
	s.Require().Equal(1, rep.Failed)
}

func (s *WriterSuite) TestPartitionMonthUnknown() {
	rows := []models.VehicleStatusRow{row(1, april, "a")}
	s.repo.On("UpsertBatch", mock.Anything, rows).
		Return(&models.PartitionMissingError{Err: errors.New("no partition of relation")}).Once()

	_, err := s.w.Store(s.ctx, rows)
	s.Require().Error(err)
	s.repo.AssertNotCalled(s.T(), "EnsurePartition", mock.Anything, mock.Anything)
}

func (s *WriterSuite) TestRepairFailure() {
	rows := []models.VehicleStatusRow{row(1, april, "a")}
	month := models.PartitionMonth{Year: 2025, Month: time.April}
	s.repo.On("UpsertBatch", mock.Anything, rows).
		Return(&models.PartitionMissingError{Month: month, Err: errors.New("no partition of relation")}).Once()
	s.repo.On("EnsurePartition", mock.Anything, month).Return(false, errors.New("permission denied")).Once()

	rep, err := s.w.Store(s.ctx, rows)
	s.Require().Error(err)
	s.Require().False(rep.OK())
}

func (s *WriterSuite) TestPoisonRowIsolated() {
	good1, bad, good2 := row(1, april, "a"), row(2, april, "b"), row(3, april, "c")
	rows := []models.VehicleStatusRow{good1, bad, good2}
	reject := &models.RowConstraintError{Key: bad.Key(), Code: "23514", Err: errors.New("check")}

	s.repo.On("UpsertBatch", mock.Anything, rows).Return(&models.RowConstraintError{Code: "23514", Err: errors.New("check")}).Once()
	s.repo.On("UpsertRow", mock.Anything, good1).Return(nil).Once()
	s.repo.On("UpsertRow", mock.Anything, bad).Return(reject).Once()
	s.repo.On("UpsertRow", mock.Anything, good2).Return(nil).Once()

	rep, err := s.w.Store(s.ctx, rows)
	s.Require().NoError(err)
	s.Require().False(rep.OK())
	s.Require().Equal(2, rep.Stored)
	s.Require().Equal(1, rep.Failed)
	s.Require().Equal([]models.RowKey{bad.Key()}, rep.FailedKeys)
}

func (s *WriterSuite) TestBatchConnectionErrorIsFatal() {
	rows := []models.VehicleStatusRow{row(1, april, "a")}
	s.repo.On("UpsertBatch", mock.Anything, rows).Return(&models.ConnectionError{Err: errors.New("conn reset")}).Once()

	rep, err := s.w.Store(s.ctx, rows)
	var ce *models.ConnectionError
	s.Require().ErrorAs(err, &ce)
	s.Require().Equal(1, rep.Failed)
	s.repo.AssertNotCalled(s.T(), "UpsertRow", mock.Anything, mock.Anything)
}

func (s *WriterSuite) TestRowConnectionErrorStopsFallback() {
	r1, r2, r3 := row(1, april, "a"), row(2, april, "b"), row(3, april, "c")
	rows := []models.VehicleStatusRow{r1, r2, r3}

	s.repo.On("UpsertBatch", mock.Anything, rows).Return(errors.New("some server error")).Once()
	s.repo.On("UpsertRow", mock.Anything, r1).Return(nil).Once()
	s.repo.On("UpsertRow", mock.Anything, r2).Return(&models.ConnectionError{Err: errors.New("eof")}).Once()

	rep, err := s.w.Store(s.ctx, rows)
	s.Require().Error(err)
	s.Require().Equal(1, rep.Stored)
	s.Require().Equal(2, rep.Failed)
	s.Require().Len(rep.FailedKeys, 2)
	s.repo.AssertNotCalled(s.T(), "UpsertRow", mock.Anything, r3)
}

func (s *WriterSuite) TestRowFallbackRepairsPartitionPerRow() {
	may := time.Date(2025, 5, 1, 0, 0, 1, 0, time.UTC)
	r1, r2 := row(1, april, "a"), row(2, may, "b")
	rows := []models.VehicleStatusRow{r1, r2}
	mayMonth := models.PartitionMonth{Year: 2025, Month: time.May}

	s.repo.On("UpsertBatch", mock.Anything, rows).Return(errors.New("deadlock detected")).Once()
	s.repo.On("UpsertRow", mock.Anything, r1).Return(nil).Once()
	s.repo.On("UpsertRow", mock.Anything, r2).Return(&models.PartitionMissingError{Err: errors.New("no partition of relation")}).Once()
	s.repo.On("EnsurePartition", mock.Anything, mayMonth).Return(true, nil).Once()
	s.repo.On("UpsertRow", mock.Anything, r2).Return(nil).Once()

	rep, err := s.w.Store(s.ctx, rows)
	s.Require().NoError(err)
	s.Require().True(rep.OK())
	s.Require().Equal(1, rep.PartitionsCreated)
}

func (s *WriterSuite) TestDuplicatesCollapsedLastWins() {
	first, last, other := row(1, april, "first"), row(1, april, "last"), row(2, april, "x")
	s.repo.On("UpsertBatch", mock.Anything, []models.VehicleStatusRow{last, other}).Return(nil).Once()

	rep, err := s.w.Store(s.ctx, []models.VehicleStatusRow{first, other, last})
	s.Require().NoError(err)
	s.Require().Equal(2, rep.Attempted)
	s.Require().True(rep.OK())
}

func TestWriterSuite(t *testing.T) {
	suite.Run(t, new(WriterSuite))
}
